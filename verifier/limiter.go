package verifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter spaces out connection attempts to the same mail domain.
// Wait blocks until the cooldown since the previous attempt has passed and
// claims the next slot before returning.
type DomainLimiter interface {
	Wait(ctx context.Context, domain string) error
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MemoryLimiter keeps one token bucket (burst 1, one token per cooldown) per
// domain. Reservations are taken at the clock's current time, so queued
// callers are spaced a full cooldown apart.
type MemoryLimiter struct {
	cooldown time.Duration
	now      func() time.Time
	sleep    SleepFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryLimiter returns a process-local limiter. now and sleep may be
// nil to use the real clock.
func NewMemoryLimiter(cooldown time.Duration, now func() time.Time, sleep SleepFunc) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &MemoryLimiter{
		cooldown: cooldown,
		now:      now,
		sleep:    sleep,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *MemoryLimiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	lim, ok := l.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.cooldown), 1)
		l.limiters[domain] = lim
	}
	now := l.now()
	r := lim.ReserveN(now, 1)
	l.mu.Unlock()

	delay := r.DelayFrom(now)
	cooldownSeconds.Observe(delay.Seconds())
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		r.CancelAt(l.now())
		return err
	}
	return nil
}

// Prune forgets domains whose cooldown has fully elapsed. A forgotten
// domain gets a fresh bucket on its next Wait, which behaves exactly like
// the idle one it replaces.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pruned := 0
	for domain, lim := range l.limiters {
		if l.cooldown <= 0 || lim.TokensAt(now) >= 1 {
			delete(l.limiters, domain)
			pruned++
		}
	}
	return pruned
}

// Len reports how many domains are being tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
