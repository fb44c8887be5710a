package ratelimit

import (
	"context"
	"sync"

	"apiflow/pkg/config"

	"golang.org/x/time/rate"
)

// Limiter throttles outgoing attempts on the client side.
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a token
	Allow() bool
	// Wait blocks until a request may proceed or ctx ends
	Wait(ctx context.Context) error
	// Reset refills the limiter to its burst capacity
	Reset()
}

// TokenBucket implements Limiter over golang.org/x/time/rate.
type TokenBucket struct {
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewTokenBucket allows perSecond requests per second on average with
// bursts of up to burst requests.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	tb := &TokenBucket{limit: rate.Limit(perSecond), burst: burst}
	tb.limiter = rate.NewLimiter(tb.limit, tb.burst)
	return tb
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.limiter
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset restores the bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.limit, tb.burst)
}

// FromConfig returns the limiter described by cfg, or nil when rate
// limiting is disabled.
func FromConfig(cfg config.RateLimitConfig) Limiter {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	return NewTokenBucket(cfg.RequestsPerSecond, cfg.Burst)
}
