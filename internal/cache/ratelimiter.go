package cache

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a per-tenant token bucket, grounded on the
// teacher's budget.Manager per-user rate.Limiter map.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimiter creates a limiter family sharing one rate/burst pair.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), rps: requestsPerSecond, burst: burst}
}

// Allow reports whether tenantID may proceed now, creating its bucket on
// first use.
func (r *RateLimiter) Allow(tenantID string) bool {
	r.mu.Lock()
	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[tenantID] = l
	}
	r.mu.Unlock()
	return l.Allow()
}
