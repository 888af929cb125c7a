// Package ratelimit implements a fixed-window request limiter keyed by
// client identifier.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Defaults match the public deployment: 10 requests per minute per client.
const (
	DefaultMaxRequests   = 10
	DefaultWindow        = time.Minute
	DefaultSweepInterval = time.Minute
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Status is a read-only snapshot of a client's allowance.
type Status struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Limiter counts requests per client inside fixed windows. Counters live
// for the process lifetime only.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*bucket
	max     int
	window  time.Duration
	now     func() time.Time
}

// New creates a Limiter allowing limit requests per window.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		entries: make(map[string]*bucket),
		max:     limit,
		window:  window,
		now:     time.Now,
	}
}

// Check records one request for id. It returns a RateLimit error carrying the
// seconds until the window resets once the count exceeds the maximum.
func (l *Limiter) Check(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.entries[id]
	if !ok || !now.Before(w.resetAt) {
		l.entries[id] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return nil
	}

	w.count++
	if w.count > l.max {
		return apperr.RateLimit(w.resetAt.Sub(now))
	}
	return nil
}

// Status reports id's remaining allowance without counting a request.
func (l *Limiter) Status(id string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.entries[id]
	if !ok || !now.Before(w.resetAt) {
		return Status{Limit: l.max, Remaining: l.max, ResetAt: now.Add(l.window)}
	}
	return Status{Limit: l.max, Remaining: max(0, l.max-w.count), ResetAt: w.resetAt}
}

// Sweep removes entries whose window has elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.entries {
		if !now.Before(w.resetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Rate limiter sweep")
			}
		}
	}
}
