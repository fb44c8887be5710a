// Package ratelimit provides client-side throttling for outgoing requests.
//
// TokenBucket wraps golang.org/x/time/rate. The transport package applies a
// Limiter before every physical attempt, retries included, so a burst of
// retries cannot exceed the configured rate.
//
//	limiter := ratelimit.NewTokenBucket(10, 5)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
