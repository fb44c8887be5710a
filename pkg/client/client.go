// Package client wires configuration, credentials, endpoint resolution,
// the request pipeline and waiters into a client for one service.
package client

import (
	"context"
	"fmt"
	"net/http"

	"apiflow/internal/fanout"
	"apiflow/pkg/auth"
	"apiflow/pkg/config"
	"apiflow/pkg/endpoint"
	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/metrics"
	"apiflow/pkg/parser"
	"apiflow/pkg/pipeline"
	"apiflow/pkg/ratelimit"
	"apiflow/pkg/request"
	"apiflow/pkg/retry"
	"apiflow/pkg/signer"
	"apiflow/pkg/transport"
	"apiflow/pkg/waiter"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Client calls operations of one service.
type Client struct {
	config   *config.Config
	endpoint *endpoint.Endpoint
	pipeline *pipeline.Pipeline
	waiters  *waiter.Model
	metrics  *metrics.Collector
	limiter  ratelimit.Limiter
	logger   logger.Logger
}

type options struct {
	resolver    endpoint.Resolver
	transport   transport.Transport
	credentials aws.CredentialsProvider
	manager     *auth.Manager
	logger      logger.Logger
	clock       pipeline.Clock
	hooks       []pipeline.RequestHook
}

// Option customises New.
type Option func(*options)

// WithResolver replaces the endpoint rules.
func WithResolver(r endpoint.Resolver) Option { return func(o *options) { o.resolver = r } }

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option { return func(o *options) { o.transport = t } }

// WithCredentials replaces the configured credentials source.
func WithCredentials(p aws.CredentialsProvider) Option {
	return func(o *options) { o.credentials = p }
}

// WithCredentialManager sets the store used for profile lookups.
func WithCredentialManager(m *auth.Manager) Option { return func(o *options) { o.manager = m } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock replaces the pipeline clock.
func WithClock(c pipeline.Clock) Option { return func(o *options) { o.clock = c } }

// WithHook adds a request hook.
func WithHook(h pipeline.RequestHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// New builds a client from cfg.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}
	log := o.logger.WithField("service", cfg.Client.Service)

	if cfg.Client.Service == "" {
		return nil, &errs.ConfigurationError{Source: "client", Msg: "service is required"}
	}

	resolver := o.resolver
	if resolver == nil {
		if cfg.Client.EndpointsFile != "" {
			rules, err := endpoint.LoadRules(cfg.Client.EndpointsFile)
			if err != nil {
				return nil, err
			}
			resolver = rules
		} else {
			resolver = endpoint.DefaultResolver()
		}
	}

	creator := endpoint.NewCreator(resolver, cfg.Client.Region, log)
	creator.Insecure = cfg.Client.Insecure
	creator.Verify = cfg.Client.VerifySSL
	creator.CABundle = cfg.Client.CABundle
	creator.Timeout = cfg.Client.Timeout

	ep, err := creator.Resolve(cfg.Client.Service, cfg.Client.Region, cfg.Client.EndpointURL)
	if err != nil {
		return nil, err
	}

	c := &Client{config: cfg, endpoint: ep, logger: log}

	tr := o.transport
	if tr == nil {
		httpTransport, err := transport.New(ep.TransportOptions(log, cfg.Telemetry.Tracing))
		if err != nil {
			return nil, err
		}
		tr = httpTransport
	}
	if c.limiter = ratelimit.FromConfig(cfg.RateLimit); c.limiter != nil {
		tr = &transport.RateLimited{Next: tr, Limiter: c.limiter}
	}

	registry, err := retry.FromConfig(cfg.Retry)
	if err != nil {
		return nil, err
	}
	if cfg.Retry.Enabled && cfg.Client.Protocol == parser.ProtocolRestXML {
		backoff := retry.NewErrorTypeBackoff(&retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		})
		registry.Register(cfg.Client.Service, retry.MaxAttempts(cfg.Retry.MaxAttempts,
			retry.ErrorBodyIn200(backoff.For(errs.ErrorTypeServerError))))
	}
	if cfg.Telemetry.Metrics {
		if c.metrics, err = metrics.New(); err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		registry.Register("", c.metrics.Policy())
	}

	hooks := o.hooks
	if cfg.Client.UserAgent != "" {
		ua := cfg.Client.UserAgent
		hooks = append([]pipeline.RequestHook{func(_ context.Context, req *http.Request, _ pipeline.Operation, _ int) error {
			req.Header.Set("User-Agent", ua)
			return nil
		}}, hooks...)
	}

	if c.pipeline, err = pipeline.New(pipeline.Options{
		Endpoint:       ep,
		Transport:      tr,
		Signer:         newSigner(cfg.Credentials, o),
		Registry:       registry,
		Hooks:          hooks,
		AttemptCeiling: cfg.Retry.AttemptCeiling,
		Logger:         log,
		Clock:          o.clock,
	}); err != nil {
		return nil, err
	}

	if cfg.Waiters.ModelPath != "" {
		if c.waiters, err = waiter.LoadModel(cfg.Waiters.ModelPath); err != nil {
			return nil, err
		}
	}

	log.DebugWithFields("client ready", map[string]interface{}{
		"endpoint": ep.URL,
		"protocol": cfg.Client.Protocol,
	})
	return c, nil
}

func newSigner(cfg config.CredentialsConfig, o *options) signer.Signer {
	if o.credentials != nil {
		if _, anonymous := o.credentials.(aws.AnonymousCredentials); anonymous {
			return signer.Anonymous{}
		}
		return signer.NewV4Signer(o.credentials)
	}
	if cfg.Anonymous {
		return signer.Anonymous{}
	}
	return signer.NewV4Signer(auth.NewProvider(cfg, o.manager))
}

// Endpoint returns the resolved endpoint.
func (c *Client) Endpoint() *endpoint.Endpoint { return c.endpoint }

// Pipeline returns the request pipeline.
func (c *Client) Pipeline() *pipeline.Pipeline { return c.pipeline }

// Registry returns the retry registry so callers can add policies.
func (c *Client) Registry() *retry.Registry { return c.pipeline.Registry() }

// Metrics returns the metrics collector, or nil when metrics are off.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Waiters returns the loaded waiter model, or nil.
func (c *Client) Waiters() *waiter.Model { return c.waiters }

// Operation describes name in the client's protocol.
func (c *Client) Operation(name string) pipeline.Operation {
	return pipeline.Operation{Name: name, Protocol: c.config.Client.Protocol}
}

// Call executes operation with spec.
func (c *Client) Call(ctx context.Context, operation string, spec *request.Spec) (*pipeline.Result, error) {
	return c.pipeline.Execute(ctx, spec, c.Operation(operation))
}

// Invoke encodes params for the client's protocol and executes operation.
func (c *Client) Invoke(ctx context.Context, operation string, params map[string]any) (*pipeline.Result, error) {
	spec, err := c.BuildSpec(operation, params)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, operation, spec)
}

// Waiter binds the named waiter of the loaded model to this client. opts
// are applied after the client's logger and metrics observer.
func (c *Client) Waiter(name string, opts ...waiter.Option) (*waiter.Waiter, error) {
	if c.waiters == nil {
		return nil, &errs.ConfigurationError{Source: "waiters", Msg: "no waiter model configured"}
	}
	cfg, err := c.waiters.Config(name)
	if err != nil {
		return nil, err
	}

	op := waiter.FromPipeline(c.pipeline, c.Operation(cfg.Operation), func(params map[string]any) (*request.Spec, error) {
		return c.BuildSpec(cfg.Operation, params)
	})
	base := []waiter.Option{waiter.WithLogger(c.logger)}
	if c.metrics != nil {
		base = append(base, waiter.WithObserver(c.metrics))
	}
	return waiter.New(cfg, op, append(base, opts...)...)
}

// Wait runs the named waiter with params.
func (c *Client) Wait(ctx context.Context, name string, params map[string]any, opts ...waiter.Option) error {
	w, err := c.Waiter(name, opts...)
	if err != nil {
		return err
	}
	return w.Wait(ctx, params)
}

// WaitAllOptions controls WaitAll.
type WaitAllOptions struct {
	Workers  int
	FailFast bool
	// Observe, when set, returns an observer for the job with the given
	// name. Jobs are named "<waiter>[<index>]".
	Observe func(job string) waiter.Observer
}

// WaitAll runs the named waiter once per parameter set, concurrently, and
// returns one result per set in input order.
func (c *Client) WaitAll(ctx context.Context, name string, paramSets []map[string]any, opts WaitAllOptions) ([]fanout.Result, error) {
	if _, err := c.Waiter(name); err != nil {
		return nil, err
	}

	jobs := make([]fanout.Job, len(paramSets))
	for i, params := range paramSets {
		jobName := fmt.Sprintf("%s[%d]", name, i)
		var extra []waiter.Option
		if opts.Observe != nil {
			extra = append(extra, waiter.WithObserver(opts.Observe(jobName)))
		}
		w, err := c.Waiter(name, extra...)
		if err != nil {
			return nil, err
		}
		jobs[i] = fanout.Job{
			Name: jobName,
			Run:  func(ctx context.Context) error { return w.Wait(ctx, params) },
		}
	}

	pool := fanout.NewPool(opts.Workers, nil, c.logger)
	pool.FailFast = opts.FailFast
	return pool.Run(ctx, jobs)
}
