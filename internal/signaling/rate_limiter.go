package signaling

import (
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"golang.org/x/time/rate"
)

// DialRateLimiter bounds how often one address may dial, protecting the
// switchboard from a runaway dial loop.
type DialRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.Address]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewDialRateLimiter allows burst dials at once and then one dial per
// interval per address. A zero interval disables limiting.
func NewDialRateLimiter(burst int, interval time.Duration) *DialRateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &DialRateLimiter{
		limiters: make(map[domain.Address]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *DialRateLimiter) Allow(addr domain.Address) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[addr] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Forget drops the state kept for addr once it unregisters.
func (rl *DialRateLimiter) Forget(addr domain.Address) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, addr)
}
