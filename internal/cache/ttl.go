// Package cache provides the short-lived key-value caches used by the
// workflow. TTL is an in-process map with per-entry expiry; ResultStore
// abstracts over it and Redis so enhancement results can be shared between
// instances.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL applies when Set is called without an explicit ttl.
const DefaultTTL = 5 * time.Minute

// DefaultCleanupInterval is how often Run sweeps expired entries.
const DefaultCleanupInterval = time.Minute

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// TTL is a mutex-guarded map whose entries expire after a time-to-live.
// Size is unbounded; only expiry removes entries.
type TTL[T any] struct {
	mu         sync.Mutex
	entries    map[string]entry[T]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTTL creates a cache whose entries default to ttl (DefaultTTL when zero).
func NewTTL[T any](ttl time.Duration) *TTL[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[T]{
		entries:    make(map[string]entry[T]),
		defaultTTL: ttl,
		now:        time.Now,
	}
}

// Set stores value under key. An optional ttl overrides the default.
func (c *TTL[T]) Set(key string, value T, ttl ...time.Duration) {
	d := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expiresAt: c.now().Add(d)}
	c.mu.Unlock()
}

// Get returns the value for key. An expired entry is evicted and reported absent.
func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds an unexpired value.
func (c *TTL[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key.
func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *TTL[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup evicts every expired entry and returns how many were removed.
func (c *TTL[T]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (c *TTL[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Cache cleanup")
			}
		}
	}
}
