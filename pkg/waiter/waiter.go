package waiter

import (
	"context"
	"fmt"
	"time"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/retry"
)

// Observer is notified of waiter progress.
type Observer interface {
	ObserveWaiterAttempt(waiter string, attempt int, state State)
	ObserveWaiterResult(waiter string, attempts int, err error)
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithLogger sets the waiter's logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Waiter) { w.logger = l }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(w *Waiter) { w.observers = append(w.observers, o) }
}

// WithSleep replaces the delay between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Waiter) { w.sleep = sleep }
}

// Waiter polls an operation until an acceptor reaches a terminal state.
// A Waiter holds no per-wait state and may run concurrent waits.
type Waiter struct {
	Name   string
	Config *Config

	op        Operation
	acceptors []*acceptor
	logger    logger.Logger
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Waiter for cfg polling op. It fails with an
// *errors.ConfigurationError when cfg is incomplete or names an unknown
// matcher or state. Later changes to cfg's acceptors do not affect the
// Waiter.
func New(cfg *Config, op Operation, opts ...Option) (*Waiter, error) {
	if cfg == nil {
		return nil, &errs.ConfigurationError{Source: "waiter", Msg: "config is required"}
	}
	acceptors, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	w := &Waiter{
		Name:      cfg.Name,
		Config:    cfg,
		op:        op,
		acceptors: acceptors,
		sleep:     retry.Wait,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.GetLogger()
	}
	return w, nil
}

// Wait polls until success. It fails with an *errors.WaiterError whose
// Kind is errors.ErrWaiterTerminalFailure or
// errors.ErrWaiterAttemptsExceeded, with an error returned by the
// operation, or with the context's error.
func (w *Waiter) Wait(ctx context.Context, params map[string]any) error {
	attempts, err := w.wait(ctx, params)
	for _, o := range w.observers {
		o.ObserveWaiterResult(w.Name, attempts, err)
	}
	return err
}

func (w *Waiter) wait(ctx context.Context, params map[string]any) (int, error) {
	state := StateWaiting
	attempts := 0

	for {
		resp, err := w.op(ctx, params)
		if err != nil {
			return attempts, err
		}
		attempts++

		doc := resp.Document()
		matched := false
		for _, a := range w.acceptors {
			if a.matches(doc) {
				state = a.state
				matched = true
				break
			}
		}

		logger.LogWaiterAttempt(w.logger, w.Name, attempts, string(state))
		for _, o := range w.observers {
			o.ObserveWaiterAttempt(w.Name, attempts, state)
		}

		if !matched {
			if section, ok := doc["Error"].(map[string]any); ok {
				code, _ := section["Code"].(string)
				return attempts, w.fail(errs.ErrWaiterTerminalFailure,
					fmt.Sprintf("unexpected error encountered: %s", code), attempts, doc)
			}
		}

		switch state {
		case StateSuccess:
			w.logger.WithField("waiter", w.Name).Debug("waiting complete, waiter matched the success state")
			return attempts, nil
		case StateFailure:
			return attempts, w.fail(errs.ErrWaiterTerminalFailure,
				"waiter encountered a terminal failure state", attempts, doc)
		}
		if attempts >= w.Config.MaxAttempts {
			return attempts, w.fail(errs.ErrWaiterAttemptsExceeded, "max attempts exceeded", attempts, doc)
		}

		if err := w.sleep(ctx, w.Config.Delay); err != nil {
			return attempts, err
		}
	}
}

func (w *Waiter) fail(kind error, reason string, attempts int, doc map[string]any) error {
	return &errs.WaiterError{
		Name:         w.Name,
		Reason:       reason,
		Kind:         kind,
		Attempts:     attempts,
		LastResponse: doc,
	}
}
