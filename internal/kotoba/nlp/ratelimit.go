package nlp

import (
	"sync"
	"time"
)

// DefaultRateLimit is the number of model calls a user may trigger per window.
const DefaultRateLimit = 20

// RateLimiter is a per-user sliding-window limiter for model calls.
// It keeps at most limit timestamps per active user.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	calls  map[string][]time.Time
}

// NewRateLimiter allows limit calls per user within window. Non-positive
// values fall back to DefaultRateLimit per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records a call for userID and reports whether it is within quota.
// Rejected calls are not recorded.
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	live := r.prune(userID, now)
	if len(live) >= r.limit {
		return false
	}
	r.calls[userID] = append(live, now)
	return true
}

// Remaining returns how many calls userID may still make in the window.
func (r *RateLimiter) Remaining(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(0, r.limit-len(r.prune(userID, r.now())))
}

// prune drops timestamps outside the window. Must be called with mu held.
func (r *RateLimiter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.calls[userID]
	live := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		delete(r.calls, userID)
		return nil
	}
	r.calls[userID] = live
	return live
}
