package verifier

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"mailprobe/cache"
	"mailprobe/models"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Sleep records d and moves the clock forward instead of blocking.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type probeCall struct {
	host string
	rcpt string
}

// fakeProber answers from a per-host script. Each probe of a host consumes
// the next result; the last one repeats.
type fakeProber struct {
	mu      sync.Mutex
	scripts map[string][]ProbeResult
	calls   []probeCall
}

func newFakeProber(scripts map[string][]ProbeResult) *fakeProber {
	return &fakeProber{scripts: scripts}
}

func (p *fakeProber) Probe(_ context.Context, host, rcpt string) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, probeCall{host: host, rcpt: rcpt})

	script := p.scripts[host]
	if len(script) == 0 {
		return failed(ErrConnectionClosed)
	}
	res := script[0]
	if len(script) > 1 {
		p.scripts[host] = script[1:]
	}
	return res
}

func (p *fakeProber) Calls() []probeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]probeCall(nil), p.calls...)
}

// countingLimiter never blocks. transient is returned by the next Wait
// only; err by every Wait.
type countingLimiter struct {
	mu        sync.Mutex
	waits     map[string]int
	err       error
	transient error
}

func (l *countingLimiter) Wait(ctx context.Context, domain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waits == nil {
		l.waits = make(map[string]int)
	}
	l.waits[domain]++
	if err := l.transient; err != nil {
		l.transient = nil
		return err
	}
	return l.err
}

func (l *countingLimiter) Count(domain string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waits[domain]
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type harness struct {
	resolver *fakeResolver
	prober   *fakeProber
	limiter  *countingLimiter
	clock    *fakeClock
	verifier *Verifier
}

func newHarness(records map[string][]models.MXRecord, scripts map[string][]ProbeResult) *harness {
	h := &harness{
		resolver: &fakeResolver{records: records},
		prober:   newFakeProber(scripts),
		limiter:  &countingLimiter{},
		clock:    newFakeClock(),
	}
	log := quietLogger()
	mx := NewMXLookup(h.resolver, cache.NewMemory[[]models.MXRecord](0, h.clock.Now), time.Hour, log)
	ca := NewCatchAllDetector(cache.NewMemory[bool](0, h.clock.Now), h.limiter, h.prober, time.Hour, log)
	h.verifier = New(mx, ca, h.limiter, h.prober, DefaultOptions(), log)
	h.verifier.Sleep = h.clock.Sleep
	return h
}
