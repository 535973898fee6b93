package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Redis is a Cache shared between service replicas. Values are stored as
// JSON under prefix+key with the entry TTL as the key expiry.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

func NewRedis[V any](client *redis.Client, prefix string, log logrus.FieldLogger) *Redis[V] {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis[V]{client: client, prefix: prefix, log: log}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.WithError(err).WithField("key", r.prefix+key).Warn("cache read failed")
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		r.log.WithError(err).WithField("key", r.prefix+key).Warn("cache entry undecodable")
		return zero, false
	}
	return v, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.WithError(err).WithField("key", r.prefix+key).Warn("cache entry unencodable")
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", r.prefix+key).Warn("cache write failed")
	}
}
