// Package ratelimit paces outbound requests per provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Registry holds one limiter per provider key. A limiter grants at most one
// request per configured interval; unknown keys use the default interval.
type Registry struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	fallback  time.Duration
	limiters  map[string]*rate.Limiter
}

// New creates a Registry. Zero or negative intervals disable pacing for
// that key.
func New(intervals map[string]time.Duration, fallback time.Duration) *Registry {
	iv := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		iv[k] = v
	}
	return &Registry{
		intervals: iv,
		fallback:  fallback,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Limiter returns the shared limiter for key, creating it on first use.
func (r *Registry) Limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}
	interval, ok := r.intervals[key]
	if !ok {
		interval = r.fallback
	}
	l := NewLimiter(interval)
	r.limiters[key] = l
	return l
}

// Acquire blocks until key may issue another request or ctx is done.
func (r *Registry) Acquire(ctx context.Context, key string) error {
	if err := r.Limiter(key).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: acquire %s", key)
	}
	return nil
}

// Interval reports the configured interval for key.
func (r *Registry) Interval(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.intervals[key]; ok {
		return v
	}
	return r.fallback
}

// NewLimiter builds a limiter allowing one request per interval with no
// burst. A non-positive interval yields an unlimited limiter.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
