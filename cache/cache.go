// Package cache holds the per-domain lookup caches shared by every request.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Cache is a best-effort TTL cache. A backend failure reads as a miss.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is a process-local Cache bounded to a fixed number of keys.
type Memory[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache
	now func() time.Time
}

// NewMemory returns a Memory cache holding at most maxEntries keys
// (0 means unbounded). now may be nil to use the wall clock.
func NewMemory[V any](maxEntries int, now func() time.Time) *Memory[V] {
	if now == nil {
		now = time.Now
	}
	return &Memory[V]{
		lru: lru.New(maxEntries),
		now: now,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.lru.Get(key)
	if !ok {
		return zero, false
	}
	e := v.(entry[V])
	if !m.now().Before(e.expires) {
		return zero, false
	}
	return e.value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Add(key, entry[V]{value: value, expires: m.now().Add(ttl)})
}

// Len reports how many keys are held, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
