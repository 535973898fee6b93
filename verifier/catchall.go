package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailprobe/cache"
)

// CatchAllDetector finds domains whose mail servers accept any recipient.
// It probes a random mailbox that cannot exist: if the server takes it, a
// positive answer for a real address means nothing.
type CatchAllDetector struct {
	Cache   cache.Cache[bool]
	Limiter DomainLimiter
	Prober  Prober
	TTL     time.Duration
	Logger  logrus.FieldLogger
}

func NewCatchAllDetector(c cache.Cache[bool], limiter DomainLimiter, prober Prober, ttl time.Duration, logger logrus.FieldLogger) *CatchAllDetector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CatchAllDetector{Cache: c, Limiter: limiter, Prober: prober, TTL: ttl, Logger: logger}
}

// IsCatchAll probes mxHost on behalf of domain. Any outcome other than a
// 2xx reply, including a dropped connection, is remembered as false. The
// error is only set when no probe could be made, and nothing is cached.
func (d *CatchAllDetector) IsCatchAll(ctx context.Context, domain, mxHost string) (bool, error) {
	if acceptAll, ok := d.Cache.Get(ctx, domain); ok {
		cacheLookupsTotal.WithLabelValues("catch_all", cacheResult(true)).Inc()
		return acceptAll, nil
	}
	cacheLookupsTotal.WithLabelValues("catch_all", cacheResult(false)).Inc()

	token, err := uuid.NewRandom()
	if err != nil {
		return false, fmt.Errorf("catch-all token: %w", err)
	}
	rcpt := "xyzcheck-" + strings.ReplaceAll(token.String(), "-", "") + "@" + domain

	if err := d.Limiter.Wait(ctx, domain); err != nil {
		return false, err
	}

	res := d.Prober.Probe(ctx, mxHost, rcpt)
	if res.Failed() && ctx.Err() != nil {
		return false, ctx.Err()
	}
	acceptAll := !res.Failed() && res.Reply.Code >= 200 && res.Reply.Code < 300

	d.Logger.WithFields(logrus.Fields{
		"domain":     domain,
		"mx":         mxHost,
		"accept_all": acceptAll,
	}).Debug("catch-all check")

	d.Cache.Set(ctx, domain, acceptAll, d.TTL)
	return acceptAll, nil
}
