package fabric

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token-bucket limiter per key (typically a member
// id or "memberID:capability" pair), lazily created on first use. It
// guards the fabric's send and incoming-invocation paths against a single
// noisy peer starving the others.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter factory allowing rps invocations per
// second per key, with burst headroom.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether an invocation for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
