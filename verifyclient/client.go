// Package verifyclient calls a mailprobe service over HTTP.
package verifyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"mailprobe/models"
)

// DefaultPace is the pause between consecutive verifications.
const DefaultPace = 500 * time.Millisecond

type Client struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Pace    time.Duration

	http   *fasthttp.Client
	sleep  func(ctx context.Context, d time.Duration) error
	logger logrus.FieldLogger
}

func New(baseURL, apiKey string, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Timeout: 2 * time.Minute,
		Pace:    DefaultPace,
		http:    &fasthttp.Client{Name: "mailprobe-client"},
		sleep:   sleep,
		logger:  logger,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerifySingle never fails: transport errors and non-2xx replies come back
// as an error-status result for email.
func (c *Client) VerifySingle(ctx context.Context, email string) models.VerificationResult {
	r, err := c.post(ctx, email)
	if err != nil {
		c.logger.WithError(err).WithField("email", email).Warn("verification request failed")
		return models.NewResult(email, models.StatusError)
	}
	return r
}

func (c *Client) post(ctx context.Context, email string) (models.VerificationResult, error) {
	var out models.VerificationResult
	if err := ctx.Err(); err != nil {
		return out, err
	}

	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return out, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + "/verify")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.APIKey != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.APIKey)
	}
	req.SetBody(body)

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return out, err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return out, fmt.Errorf("verifier returned %d", code)
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// VerifyEmails checks addresses one at a time, in order.
func (c *Client) VerifyEmails(ctx context.Context, emails []string) []models.VerificationResult {
	results := make([]models.VerificationResult, 0, len(emails))
	for i, email := range emails {
		if i > 0 {
			c.sleep(ctx, c.Pace)
		}
		results = append(results, c.VerifySingle(ctx, email))
	}
	return results
}

// Tier is a group of candidate addresses of equal likelihood.
type Tier struct {
	Number int
	Emails []string
}

type TieredResult struct {
	Best        *models.VerificationResult
	All         []models.VerificationResult
	CreditsUsed int
	TierReached int
}

// VerifyTiered works through tiers in order and stops at the first valid
// address. The first accept-all address is kept as a fallback; one more
// tier is checked in full before settling for it.
func (c *Client) VerifyTiered(ctx context.Context, tiers []Tier) TieredResult {
	var (
		res          TieredResult
		fallback     *models.VerificationResult
		fallbackTier int
	)

	for _, tier := range tiers {
		res.TierReached = tier.Number
		for i, email := range tier.Emails {
			if i > 0 {
				c.sleep(ctx, c.Pace)
			}
			v := c.VerifySingle(ctx, email)
			res.All = append(res.All, v)
			res.CreditsUsed++

			if v.Status == models.StatusValid {
				res.Best = &v
				c.logger.WithFields(logrus.Fields{
					"tier":    tier.Number,
					"credits": res.CreditsUsed,
				}).Info("valid candidate found")
				return res
			}
			if v.Status == models.StatusAcceptAll && fallback == nil {
				fallback = &v
				fallbackTier = tier.Number
			}
		}

		if fallback != nil && tier.Number > fallbackTier {
			break
		}
	}

	res.Best = fallback
	return res
}
