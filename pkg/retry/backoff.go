package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "apiflow/pkg/errors"
)

// Backoff computes the delay before the attempt following attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the delay after the first attempt
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Delay returns BaseDelay * Multiplier^(attempt-1), capped and jittered.
func (eb *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && d > float64(eb.MaxDelay) {
		d = float64(eb.MaxDelay)
	}
	return jitter(d, eb.JitterFactor)
}

// LinearBackoff grows the delay by Increment per attempt
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

// Delay returns BaseDelay + Increment*(attempt-1), capped and jittered.
func (lb *LinearBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && d > float64(lb.MaxDelay) {
		d = float64(lb.MaxDelay)
	}
	return jitter(d, lb.JitterFactor)
}

// ConstantBackoff always waits the same amount. A zero Interval retries
// immediately.
type ConstantBackoff struct {
	Interval time.Duration
}

// Constant returns a ConstantBackoff of d.
func Constant(d time.Duration) *ConstantBackoff {
	return &ConstantBackoff{Interval: d}
}

func (cb *ConstantBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Interval
}

func jitter(d, factor float64) time.Duration {
	if factor > 0 {
		j := d * factor
		d += (rand.Float64() * 2 * j) - j
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff selects a backoff strategy by error classification.
// Throttling backs off more gently and for longer than transient network
// or server faults.
type ErrorTypeBackoff struct {
	Network    Backoff
	Throttling Backoff
	Server     Backoff
	Default    Backoff
}

// NewErrorTypeBackoff derives per-type strategies from a base exponential
// backoff.
func NewErrorTypeBackoff(base *ExponentialBackoff) *ErrorTypeBackoff {
	if base == nil {
		base = DefaultExponentialBackoff()
	}
	throttle := *base
	throttle.BaseDelay = base.BaseDelay * 5
	throttle.Multiplier = math.Max(1.5, base.Multiplier*0.75)
	throttle.JitterFactor = math.Min(1, base.JitterFactor*3)

	return &ErrorTypeBackoff{
		Network:    base,
		Throttling: &throttle,
		Server:     base,
		Default:    base,
	}
}

// For returns the strategy for errorType.
func (etb *ErrorTypeBackoff) For(errorType errs.ErrorType) Backoff {
	switch errorType {
	case errs.ErrorTypeNetwork, errs.ErrorTypeTimeout:
		return etb.Network
	case errs.ErrorTypeThrottling:
		return etb.Throttling
	case errs.ErrorTypeServerError:
		return etb.Server
	default:
		return etb.Default
	}
}
