// Package metrics exports call and waiter telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/retry"
	"apiflow/pkg/waiter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apiflow"

// Collector holds the apiflow metrics. It observes attempts through a
// retry policy that never asks for a retry, and waiters through the
// waiter.Observer interface.
type Collector struct {
	registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	attemptErrors  *prometheus.CounterVec
	waiterPolls    *prometheus.CounterVec
	waiterResults  *prometheus.CounterVec
	waiterAttempts *prometheus.HistogramVec
}

// New creates a Collector with its own registry.
func New() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Physical attempts by service, operation and HTTP status (0 when no response).",
		}, []string{"service", "operation", "status"}),
		attemptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_errors_total",
			Help:      "Attempts that failed without a response, by error type.",
		}, []string{"service", "operation", "type"}),
		waiterPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waiter",
			Name:      "polls_total",
			Help:      "Waiter polls by resulting state.",
		}, []string{"waiter", "state"}),
		waiterResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waiter",
			Name:      "results_total",
			Help:      "Finished waits by result.",
		}, []string{"waiter", "result"}),
		waiterAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "waiter",
			Name:      "attempts",
			Help:      "Polls needed per finished wait.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 80},
		}, []string{"waiter"}),
	}

	for _, col := range []prometheus.Collector{c.attempts, c.attemptErrors, c.waiterPolls, c.waiterResults, c.waiterAttempts} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to filename for the node
// exporter textfile collector.
func (c *Collector) WriteTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, c.registry)
}

// Policy returns a retry policy that records every attempt and always
// abstains. Register it under "" to see all operations.
func (c *Collector) Policy() retry.Policy {
	return retry.Observer("metrics", func(_ context.Context, out retry.Outcome) {
		status := 0
		if out.Response != nil {
			status = out.Response.StatusCode
		}
		c.attempts.WithLabelValues(out.Service, out.Operation, strconv.Itoa(status)).Inc()
		if out.Err != nil {
			c.attemptErrors.WithLabelValues(out.Service, out.Operation, string(errs.TypeOf(out.Err))).Inc()
		}
	})
}

// ObserveWaiterAttempt implements waiter.Observer.
func (c *Collector) ObserveWaiterAttempt(name string, _ int, state waiter.State) {
	c.waiterPolls.WithLabelValues(name, string(state)).Inc()
}

// ObserveWaiterResult implements waiter.Observer.
func (c *Collector) ObserveWaiterResult(name string, attempts int, err error) {
	c.waiterResults.WithLabelValues(name, waiterResult(err)).Inc()
	c.waiterAttempts.WithLabelValues(name).Observe(float64(attempts))
}

func waiterResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, errs.ErrWaiterTerminalFailure):
		return "failure"
	case errors.Is(err, errs.ErrWaiterAttemptsExceeded):
		return "attempts_exceeded"
	default:
		return "error"
	}
}

var _ waiter.Observer = (*Collector)(nil)
