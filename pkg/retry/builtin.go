package retry

import (
	"context"
	"fmt"
	"slices"

	"apiflow/pkg/config"
	errs "apiflow/pkg/errors"
)

// MaxAttempts wraps p so that it abstains once maxAttempts attempts have
// been made.
func MaxAttempts(maxAttempts int, p Policy) Policy {
	return Func(p.Name(), func(ctx context.Context, out Outcome) Decision {
		if out.Attempt >= maxAttempts {
			return Abstain
		}
		return p.Decide(ctx, out)
	})
}

// Observer returns a policy that passes every outcome to fn and always
// abstains. It is used for telemetry and never changes a decision.
func Observer(name string, fn func(ctx context.Context, out Outcome)) Policy {
	return Func(name, func(ctx context.Context, out Outcome) Decision {
		fn(ctx, out)
		return Abstain
	})
}

// ConnectionErrors retries attempts that failed without a response because
// of a connection, DNS or timeout failure.
func ConnectionErrors(b Backoff) Policy {
	return Func("connection-errors", func(_ context.Context, out Outcome) Decision {
		if out.Err == nil {
			return Abstain
		}
		switch errs.TypeOf(out.Err) {
		case errs.ErrorTypeNetwork, errs.ErrorTypeTimeout:
			return After(b.Delay(out.Attempt))
		}
		return Abstain
	})
}

// StatusCodes retries responses whose HTTP status is one of codes.
func StatusCodes(codes []int, b Backoff) Policy {
	codes = slices.Clone(codes)
	return Func("status-codes", func(_ context.Context, out Outcome) Decision {
		if out.Response == nil || !slices.Contains(codes, out.Response.StatusCode) {
			return Abstain
		}
		return After(b.Delay(out.Attempt))
	})
}

// ErrorCodes retries responses whose parsed error code is one of codes,
// regardless of HTTP status.
func ErrorCodes(codes []string, b Backoff) Policy {
	codes = slices.Clone(codes)
	return Func("error-codes", func(_ context.Context, out Outcome) Decision {
		code := out.Response.ErrorCode()
		if code == "" || !slices.Contains(codes, code) {
			return Abstain
		}
		return After(b.Delay(out.Attempt))
	})
}

// ErrorBodyIn200 retries a 200 response whose body nonetheless carries an
// error section, as some XML services return for long-running copies.
func ErrorBodyIn200(b Backoff) Policy {
	return Func("error-body-in-200", func(_ context.Context, out Outcome) Decision {
		if out.Response == nil || out.Response.StatusCode != 200 || out.Response.ErrorCode() == "" {
			return Abstain
		}
		return After(b.Delay(out.Attempt))
	})
}

// FromConfig builds the default registry for cfg. The returned registry
// is empty when retries are disabled.
func FromConfig(cfg config.RetryConfig) (*Registry, error) {
	r := NewRegistry()
	if !cfg.Enabled {
		return r, nil
	}
	if cfg.MaxAttempts < 1 {
		return nil, &errs.ConfigurationError{
			Source: "retry",
			Msg:    fmt.Sprintf("max_attempts must be at least 1, got %d", cfg.MaxAttempts),
		}
	}

	typed := NewErrorTypeBackoff(&ExponentialBackoff{
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		JitterFactor: cfg.JitterFactor,
	})

	r.Register("", MaxAttempts(cfg.MaxAttempts, ErrorCodes(cfg.ThrottleErrorCodes, typed.For(errs.ErrorTypeThrottling))))
	r.Register("", MaxAttempts(cfg.MaxAttempts, StatusCodes(cfg.RetryableStatusCodes, typed.For(errs.ErrorTypeServerError))))
	r.Register("", MaxAttempts(cfg.MaxAttempts, ConnectionErrors(typed.For(errs.ErrorTypeNetwork))))
	return r, nil
}
