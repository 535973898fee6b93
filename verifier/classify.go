package verifier

import (
	"strings"

	"mailprobe/models"
)

var permanentPhrases = []string{
	"does not exist",
	"no such user",
	"invalid address",
	"user unknown",
	"recipient rejected",
	"mailbox not found",
	"address rejected",
	"undeliverable",
	"permanent",
	"unknown user",
	"not exist",
}

var greylistPhrases = []string{
	"try again",
	"try later",
	"greylisted",
	"greylist",
	"temporarily",
	"come back",
	"please retry",
}

// Classify turns an SMTP reply to RCPT TO into a verdict. 4xx replies and
// anything else outside 2xx/5xx are only invalid when the text says the
// mailbox is gone for good.
func Classify(code int, message string) models.Status {
	switch {
	case code >= 200 && code < 300:
		return models.StatusValid
	case code >= 500 && code < 600:
		return models.StatusInvalid
	}
	if containsAny(strings.ToLower(message), permanentPhrases) {
		return models.StatusInvalid
	}
	return models.StatusError
}

// ClassifyProbe classifies a probe outcome. A connection failure has no
// code, so only its text is inspected.
func ClassifyProbe(res ProbeResult) models.Status {
	if res.Failed() {
		return Classify(0, res.Failure.Error())
	}
	return Classify(res.Reply.Code, res.Reply.Message)
}

// IsGreylisted reports whether a transient rejection should be retried.
func IsGreylisted(code int, message string) bool {
	if code < 400 || code >= 500 {
		return false
	}
	if code == 450 || code == 451 {
		return true
	}
	return containsAny(strings.ToLower(message), greylistPhrases)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
