package edge

import (
	"sync"
	"time"
)

// RateLimiter admits at most one click batch per window per session,
// rejecting a client's batches that arrive faster than its own declared
// batching interval.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
}

// NewRateLimiter builds a limiter enforcing one admitted batch per window
// per session key.
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{window: window, lastSeen: make(map[string]time.Time)}
}

// Allow reports whether a batch for key may be admitted now, recording
// the admission if so.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSeen[key]
	if ok && now.Sub(last) < r.window {
		return false
	}
	r.lastSeen[key] = now
	return true
}

// Forget drops tracking state for key, called on session close so the
// map does not grow unbounded across the connection's lifetime.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeen, key)
}
