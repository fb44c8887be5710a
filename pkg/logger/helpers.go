package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogAttempt records the outcome of a single transport attempt.
func LogAttempt(l Logger, operation string, attempt int, statusCode int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"operation":   operation,
		"attempt":     attempt,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case err != nil:
		l.WithError(err).WarnWithFields("attempt failed", fields)
	case statusCode >= 500:
		l.WarnWithFields("attempt returned server error", fields)
	case statusCode >= 300:
		l.DebugWithFields("attempt returned error response", fields)
	default:
		l.DebugWithFields("attempt completed", fields)
	}
}

// LogRetryDecision records a delay chosen by the retry policies.
func LogRetryDecision(l Logger, operation string, attempt int, delay time.Duration, source string) {
	l.InfoWithFields("retrying request", map[string]interface{}{
		"operation": operation,
		"attempt":   attempt,
		"delay":     delay,
		"policy":    source,
	})
}

// LogWaiterAttempt records one poll of a waiter.
func LogWaiterAttempt(l Logger, waiter string, attempt int, state string) {
	l.DebugWithFields("waiter poll", map[string]interface{}{
		"waiter":  waiter,
		"attempt": attempt,
		"state":   state,
	})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                           {}
func (n *nopLogger) Info(msg string)                                            {}
func (n *nopLogger) Warn(msg string)                                            {}
func (n *nopLogger) Error(msg string)                                           {}
func (n *nopLogger) WithField(key string, value interface{}) Logger             { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger            { return n }
func (n *nopLogger) WithError(err error) Logger                                 { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                     { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) Zerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
