package verifier

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestMemoryLimiter_FirstCallNeverWaits(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(2*time.Second, clock.Now, clock.Sleep)
	ctx := context.Background()

	for _, domain := range []string{"a.example", "b.example", "c.example"} {
		if err := l.Wait(ctx, domain); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := clock.Slept(); len(got) != 0 {
		t.Errorf("expected no waits for first calls, got %v", got)
	}
}

func TestMemoryLimiter_BackToBackSerialises(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(2*time.Second, clock.Now, clock.Sleep)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := l.Wait(ctx, "example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	slept := clock.Slept()
	if len(slept) != 3 {
		t.Fatalf("expected 3 waits, got %v", slept)
	}
	for _, d := range slept {
		if d != 2*time.Second {
			t.Errorf("expected full cooldown, got %v", d)
		}
	}
}

func TestMemoryLimiter_CountsFromProbeStart(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(2*time.Second, clock.Now, clock.Sleep)
	ctx := context.Background()

	l.Wait(ctx, "example.com")
	clock.Advance(500 * time.Millisecond)
	l.Wait(ctx, "example.com")
	if slept := clock.Slept(); len(slept) != 1 || slept[0] != 1500*time.Millisecond {
		t.Fatalf("expected remaining 1.5s, got %v", slept)
	}

	// a probe that takes longer than the cooldown leaves nothing to wait
	clock.Advance(3 * time.Second)
	l.Wait(ctx, "example.com")
	if slept := clock.Slept(); len(slept) != 1 {
		t.Fatalf("expected no further wait, got %v", slept)
	}
}

func TestMemoryLimiter_ConcurrentCallersQueue(t *testing.T) {
	l := NewMemoryLimiter(40*time.Millisecond, nil, nil)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait(ctx, "example.com")
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	start := time.Now()
	wg.Wait()

	if len(times) != 3 {
		t.Fatalf("expected three callers through, got %d", len(times))
	}
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Errorf("expected three callers to take about two cooldowns, took %v", elapsed)
	}
}

func TestMemoryLimiter_CancelledWait(t *testing.T) {
	l := NewMemoryLimiter(time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	if err := l.Wait(ctx, "example.com"); err == nil {
		t.Fatal("expected cancelled wait to fail")
	}
}

func TestMemoryLimiter_Prune(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(2*time.Second, clock.Now, clock.Sleep)
	ctx := context.Background()

	l.Wait(ctx, "old.example")
	clock.Advance(5 * time.Second)
	l.Wait(ctx, "fresh.example")

	if n := l.Prune(); n != 1 {
		t.Fatalf("expected one idle domain pruned, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected fresh domain kept, have %d", l.Len())
	}

	l.Wait(ctx, "fresh.example")
	if slept := clock.Slept(); len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("pruning must not reset an active cooldown, waits %v", slept)
	}
}

func TestRedisLimiter_SharedSlots(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	clock := newFakeClock()
	prefix := "mailprobe:test:limiter:" + time.Now().Format("150405.000000") + ":"
	a := NewRedisLimiter(client, prefix, 2*time.Second)
	b := NewRedisLimiter(client, prefix, 2*time.Second)
	for _, l := range []*RedisLimiter{a, b} {
		l.now = clock.Now
		l.sleep = clock.Sleep
	}

	ctx := context.Background()
	if err := a.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slept := clock.Slept()
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("expected second replica to wait a cooldown, got %v", slept)
	}
	client.Del(ctx, prefix+"example.com")
}
