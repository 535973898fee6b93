// Package verifier checks whether a mailbox exists by asking its mail
// exchangers, without sending any mail.
package verifier

import (
	"context"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"

	"mailprobe/models"
)

// Options tunes the retry behaviour of a Verifier.
type Options struct {
	// MaxMXAttempts caps how many exchangers are tried, in priority order.
	MaxMXAttempts int
	// GreylistBackoff is the pause before retrying a greylisted exchanger.
	GreylistBackoff time.Duration
	// RetryBackoff is the pause before the last-chance probe of the primary
	// exchanger once every attempt has failed.
	RetryBackoff time.Duration
	// Deadline bounds a whole verification. Zero disables it.
	Deadline time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxMXAttempts:   3,
		GreylistBackoff: 5 * time.Second,
		RetryBackoff:    2 * time.Second,
	}
}

// Verifier runs the full check for one address: syntax, MX lookup,
// catch-all detection then RCPT probes with greylist and failover retries.
type Verifier struct {
	MX       *MXLookup
	CatchAll *CatchAllDetector
	Limiter  DomainLimiter
	Prober   Prober
	Options  Options
	Sleep    SleepFunc
	Logger   logrus.FieldLogger
}

func New(mx *MXLookup, catchAll *CatchAllDetector, limiter DomainLimiter, prober Prober, opts Options, logger logrus.FieldLogger) *Verifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Verifier{
		MX:       mx,
		CatchAll: catchAll,
		Limiter:  limiter,
		Prober:   prober,
		Options:  opts,
		Sleep:    sleepContext,
		Logger:   logger,
	}
}

// Verify never fails: anything that prevents a verdict yields StatusError.
func (v *Verifier) Verify(ctx context.Context, email string) models.VerificationResult {
	if v.Options.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Options.Deadline)
		defer cancel()
	}

	status := v.verify(ctx, email)
	verificationsTotal.WithLabelValues(string(status)).Inc()
	v.Logger.WithFields(logrus.Fields{
		"email":  email,
		"status": status,
	}).Info("verified")
	return models.NewResult(email, status)
}

func (v *Verifier) verify(ctx context.Context, email string) models.Status {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return models.StatusInvalid
	}
	domain, ok := asciiDomain(email[at+1:])
	if !ok {
		return models.StatusInvalid
	}
	// probes and cache keys use the ASCII form of the domain
	rcpt := email[:at] + "@" + domain
	if err := checkmail.ValidateFormat(rcpt); err != nil {
		return models.StatusInvalid
	}
	log := v.Logger.WithField("domain", domain)

	records := v.MX.Resolve(ctx, domain)
	if len(records) == 0 {
		if ctx.Err() != nil {
			return models.StatusError
		}
		return models.StatusInvalid
	}
	primary := records[0].Exchange

	acceptAll, err := v.CatchAll.IsCatchAll(ctx, domain, primary)
	if err != nil {
		log.WithError(err).Warn("catch-all check failed")
	} else if acceptAll {
		return models.StatusAcceptAll
	}

	if n := v.Options.MaxMXAttempts; n > 0 && len(records) > n {
		records = records[:n]
	}
	for _, mx := range records {
		if ctx.Err() != nil {
			return models.StatusError
		}
		res, ok := v.attempt(ctx, domain, mx.Exchange, rcpt)
		if !ok {
			continue
		}
		if IsGreylisted(res.Reply.Code, res.Reply.Message) {
			log.WithFields(logrus.Fields{
				"mx":   mx.Exchange,
				"code": res.Reply.Code,
			}).Info("greylisted, retrying")
			if v.Sleep(ctx, v.Options.GreylistBackoff) != nil {
				return models.StatusError
			}
			res, ok = v.attempt(ctx, domain, mx.Exchange, rcpt)
			if !ok {
				continue
			}
		}
		return ClassifyProbe(res)
	}

	// every exchanger failed to answer, give the primary one more go
	if v.Sleep(ctx, v.Options.RetryBackoff) != nil {
		return models.StatusError
	}
	if res, ok := v.attempt(ctx, domain, primary, rcpt); ok {
		return ClassifyProbe(res)
	}
	return models.StatusError
}

// asciiDomain lowercases d, drops a trailing root dot and converts an
// internationalised name to punycode. ok is false when nothing usable is left.
func asciiDomain(d string) (string, bool) {
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", false
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil || ascii == "" {
		return "", false
	}
	return strings.ToLower(ascii), true
}

// attempt waits for the domain cooldown and probes host once. ok is false
// when no reply was obtained.
func (v *Verifier) attempt(ctx context.Context, domain, host, rcpt string) (ProbeResult, bool) {
	if err := v.Limiter.Wait(ctx, domain); err != nil {
		return failed(err), false
	}
	res := v.Prober.Probe(ctx, host, rcpt)
	return res, !res.Failed()
}
