package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter paces dispatch. Successful items raise the rate by 20%
// up to 2x the configured rate; a rate-limited item halves it, down to a
// quarter of the configured rate.
type adaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	currentRate rate.Limit
	adaptive    bool
}

func newAdaptiveLimiter(perSecond float64, burst int) *adaptiveLimiter {
	if perSecond <= 0 {
		return &adaptiveLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(perSecond)
	return &adaptiveLimiter{
		limiter:     rate.NewLimiter(r, burst),
		initialRate: r,
		currentRate: r,
		adaptive:    true,
	}
}

// Wait blocks until the next dispatch is allowed or ctx is done.
func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	if !a.adaptive {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.currentRate * 1.2
	if maxRate := a.initialRate * 2; next > maxRate {
		next = maxRate
	}
	a.currentRate = next
	a.limiter.SetLimit(next)
}

func (a *adaptiveLimiter) onRateLimit() {
	if !a.adaptive {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.currentRate * 0.5
	if minRate := a.initialRate / 4; next < minRate {
		next = minRate
	}
	a.currentRate = next
	a.limiter.SetLimit(next)
	zap.L().Warn("batch: reducing dispatch rate after rate limit",
		zap.Float64("new_rate", float64(next)),
	)
}

func (a *adaptiveLimiter) rate() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
