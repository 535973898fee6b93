package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// reserveSlot claims the next probe slot for a domain. The key holds the
// start time (unix ms) of the latest claimed slot; the next one starts a
// cooldown after it, or now if that is already past.
var reserveSlot = redis.NewScript(`
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
local last = tonumber(redis.call("GET", KEYS[1]))
local slot = now
if last and last + cooldown > now then
  slot = last + cooldown
end
redis.call("SET", KEYS[1], slot, "PX", slot - now + cooldown * 2)
return slot
`)

// RedisLimiter shares the per-domain cooldown across service replicas.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	cooldown time.Duration
	now      func() time.Time
	sleep    SleepFunc
}

func NewRedisLimiter(client *redis.Client, prefix string, cooldown time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		cooldown: cooldown,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (l *RedisLimiter) Wait(ctx context.Context, domain string) error {
	if l.cooldown <= 0 {
		return nil
	}

	now := l.now()
	slot, err := reserveSlot.Run(ctx, l.client, []string{l.prefix + domain},
		now.UnixMilli(), l.cooldown.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("reserve probe slot for %s: %w", domain, err)
	}

	delay := time.UnixMilli(slot).Sub(now)
	cooldownSeconds.Observe(delay.Seconds())
	return l.sleep(ctx, delay)
}
