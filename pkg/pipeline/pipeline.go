package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"apiflow/pkg/endpoint"
	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/parser"
	"apiflow/pkg/request"
	"apiflow/pkg/retry"
	"apiflow/pkg/signer"
	"apiflow/pkg/transport"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Headers stamped on every attempt.
const (
	InvocationIDHeader = "Amz-Sdk-Invocation-Id"
	AttemptHeader      = "Amz-Sdk-Request"
)

const tracerName = "apiflow/pkg/pipeline"

// Operation describes the remote operation being executed.
type Operation struct {
	Name     string
	Protocol string
	// StreamingOutput leaves successful response bodies unread. The
	// caller must close Result.Stream.
	StreamingOutput bool
	Output          *parser.Shape
}

// Result is a successful response.
type Result struct {
	StatusCode int
	Header     http.Header
	Parsed     map[string]any
	Stream     *parser.StreamingBody
	Attempts   int
}

// RequestHook runs on every freshly built request before it is signed.
type RequestHook func(ctx context.Context, req *http.Request, op Operation, attempt int) error

// Clock supplies signing time and inter-attempt delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error { return retry.Wait(ctx, d) }

// Options configures a Pipeline. Endpoint and Transport are required.
type Options struct {
	Endpoint  *endpoint.Endpoint
	Transport transport.Transport
	Signer    signer.Signer
	Parsers   *parser.Factory
	Registry  *retry.Registry
	Hooks     []RequestHook
	// AttemptCeiling stops a call that policies keep retrying. Zero means
	// no ceiling.
	AttemptCeiling int
	Logger         logger.Logger
	Tracer         trace.Tracer
	Clock          Clock
}

// Pipeline executes operations against one endpoint. It is safe for
// concurrent use; each Execute call owns its attempts.
type Pipeline struct {
	endpoint  *endpoint.Endpoint
	transport transport.Transport
	signer    signer.Signer
	parsers   *parser.Factory
	registry  *retry.Registry
	hooks     []RequestHook
	ceiling   int
	logger    logger.Logger
	tracer    trace.Tracer
	clock     Clock
}

// New creates a Pipeline, filling unset options with defaults: anonymous
// signing, the standard parsers, an empty registry and the system clock.
func New(opts Options) (*Pipeline, error) {
	if opts.Endpoint == nil {
		return nil, &errs.ConfigurationError{Source: "pipeline", Msg: "endpoint is required"}
	}
	if opts.Transport == nil {
		return nil, &errs.ConfigurationError{Source: "pipeline", Msg: "transport is required"}
	}
	if opts.AttemptCeiling < 0 {
		return nil, &errs.ConfigurationError{Source: "pipeline", Msg: "attempt ceiling cannot be negative"}
	}

	p := &Pipeline{
		endpoint:  opts.Endpoint,
		transport: opts.Transport,
		signer:    opts.Signer,
		parsers:   opts.Parsers,
		registry:  opts.Registry,
		hooks:     append([]RequestHook(nil), opts.Hooks...),
		ceiling:   opts.AttemptCeiling,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		clock:     opts.Clock,
	}
	if p.signer == nil {
		p.signer = signer.Anonymous{}
	}
	if p.parsers == nil {
		p.parsers = parser.NewFactory()
	}
	if p.registry == nil {
		p.registry = retry.NewRegistry()
	}
	if p.logger == nil {
		p.logger = logger.GetLogger()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.clock == nil {
		p.clock = systemClock{}
	}
	return p, nil
}

// Endpoint returns the endpoint requests are sent to.
func (p *Pipeline) Endpoint() *endpoint.Endpoint { return p.endpoint }

// Registry returns the retry registry consulted after every attempt.
func (p *Pipeline) Registry() *retry.Registry { return p.registry }

// attempt is the outcome of one exchange plus the resources it holds.
type attempt struct {
	outcome retry.Outcome
	stream  *parser.StreamingBody
}

func (a *attempt) release() {
	if a.stream != nil {
		a.stream.Close()
		a.stream = nil
	}
}

// Execute runs op. It fails with a transport error (DNS and connection
// failures surface as *errors.EndpointConnectionError), an
// *errors.ApplicationError, an *errors.RetriesExceededError, or the
// context's error when ctx ends.
func (p *Pipeline) Execute(ctx context.Context, spec *request.Spec, op Operation) (*Result, error) {
	if spec == nil {
		spec = &request.Spec{}
	}
	parse, err := p.parsers.Parser(op.Protocol)
	if err != nil {
		return nil, &errs.ConfigurationError{Source: op.Name, Msg: "no parser for operation", Err: err}
	}

	service := p.endpoint.ServiceID
	invocationID := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, service+"."+op.Name, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", op.Name),
			attribute.String("apiflow.invocation_id", invocationID),
		))
	defer span.End()

	log := p.logger.WithFields(map[string]interface{}{
		"service":       service,
		"operation":     op.Name,
		"invocation_id": invocationID,
	})

	if wrapped, err := spec.WithReplayableBody(); err != nil {
		log.WithField("error", err.Error()).Debug("cannot record request body offset")
	} else {
		spec = wrapped
	}
	replayable := request.IsReplayable(spec.Body)
	if !replayable {
		log.Debug("request body is not replayable, retries disabled")
	}
	policies := p.registry.Policies(service, op.Name)

	n := 1
	req, err := p.prepare(ctx, spec, op, n, invocationID)
	if err != nil {
		return nil, p.fail(span, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(span, err)
		}

		a := p.send(ctx, req, op, parse, n, log)
		if err := ctx.Err(); err != nil {
			a.release()
			return nil, p.fail(span, err)
		}

		decision := retry.Evaluate(ctx, policies, a.outcome)
		if !decision.Retry {
			span.SetAttributes(attribute.Int("apiflow.attempts", n))
			res, err := p.finish(op, a, n)
			if err != nil {
				return nil, p.fail(span, err)
			}
			return res, nil
		}

		if !replayable {
			log.WithField("policy", decision.Policy).Debug("retry requested for a body that cannot be replayed")
			span.SetAttributes(attribute.Int("apiflow.attempts", n))
			res, err := p.finish(op, a, n)
			if err != nil {
				return nil, p.fail(span, err)
			}
			return res, nil
		}

		if p.ceiling > 0 && n >= p.ceiling {
			last := outcomeError(op, a)
			a.release()
			return nil, p.fail(span, &errs.RetriesExceededError{Attempts: n, Reason: "attempt ceiling reached", Err: last})
		}

		a.release()
		if err := request.Rewind(spec.Body); err != nil {
			if !errors.Is(err, errs.ErrNotReplayable) {
				err = &errs.NotReplayableError{Err: err}
			}
			return nil, p.fail(span, &errs.RetriesExceededError{Attempts: n, Reason: "request body could not be reset", Err: err})
		}

		logger.LogRetryDecision(log, op.Name, n, decision.Delay, decision.Policy)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("apiflow.attempt", n),
			attribute.String("apiflow.policy", decision.Policy),
			attribute.Int64("apiflow.delay_ms", decision.Delay.Milliseconds()),
		))

		// Sign after the delay so the signature is fresh when sent.
		if err := p.clock.Sleep(ctx, decision.Delay); err != nil {
			return nil, p.fail(span, err)
		}
		n++
		req, err = p.prepare(ctx, spec, op, n, invocationID)
		if err != nil {
			return nil, p.fail(span, err)
		}
	}
}

// prepare builds, hooks and signs the request for attempt n.
func (p *Pipeline) prepare(ctx context.Context, spec *request.Spec, op Operation, n int, invocationID string) (*http.Request, error) {
	req, err := request.Build(ctx, p.endpoint.URL, spec)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op.Name, err)
	}
	req.Header.Set(InvocationIDHeader, invocationID)
	req.Header.Set(AttemptHeader, fmt.Sprintf("attempt=%d", n))

	for _, hook := range p.hooks {
		if err := hook(ctx, req, op, n); err != nil {
			return nil, fmt.Errorf("request hook: %w", err)
		}
	}

	scope := signer.Scope{Service: p.endpoint.SigningName, Region: p.endpoint.SigningRegion}
	if err := p.signer.Sign(ctx, req, spec.Body, scope, p.clock.Now()); err != nil {
		return nil, fmt.Errorf("sign %s request: %w", op.Name, err)
	}
	return req, nil
}

// send performs one exchange and converts its result into an Outcome.
func (p *Pipeline) send(ctx context.Context, req *http.Request, op Operation, parse parser.Parser, n int, log logger.Logger) *attempt {
	ctx, span := p.tracer.Start(ctx, "attempt", trace.WithAttributes(attribute.Int("apiflow.attempt", n)))
	defer span.End()

	a := &attempt{outcome: retry.Outcome{Attempt: n, Service: p.endpoint.ServiceID, Operation: op.Name}}
	start := time.Now()

	resp, err := p.transport.Send(ctx, req)
	// The transport may still hold the request body; cut it off before
	// the body is rewound for another attempt.
	request.Release(req)
	if err != nil {
		a.outcome.Err = p.rewrite(err)
		span.RecordError(a.outcome.Err)
		span.SetStatus(codes.Error, "transport failure")
		logger.LogAttempt(log, op.Name, n, 0, time.Since(start), a.outcome.Err)
		return a
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw := &parser.RawResponse{StatusCode: resp.StatusCode, Header: resp.Header}
	if op.StreamingOutput && resp.StatusCode < 300 {
		raw.Stream = parser.NewStreamingBody(resp.Body, resp.ContentLength)
		a.stream = raw.Stream
	} else {
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			a.outcome.Err = transport.Classify(req.URL.Redacted(), err)
			span.RecordError(a.outcome.Err)
			logger.LogAttempt(log, op.Name, n, resp.StatusCode, time.Since(start), a.outcome.Err)
			return a
		}
		raw.Body = body
	}

	parsed, err := parse.Parse(raw, op.Output)
	if err != nil {
		a.release()
		a.outcome.Err = err
		span.RecordError(err)
		logger.LogAttempt(log, op.Name, n, resp.StatusCode, time.Since(start), err)
		return a
	}

	a.outcome.Response = &retry.Response{StatusCode: resp.StatusCode, Header: resp.Header, Parsed: parsed}
	if resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	logger.LogAttempt(log, op.Name, n, resp.StatusCode, time.Since(start), nil)
	return a
}

// rewrite turns name resolution and connection failures into
// *errors.EndpointConnectionError. Other errors pass through.
func (p *Pipeline) rewrite(err error) error {
	var te *errs.TransportError
	if errors.As(err, &te) && (te.Kind == errs.TransportDNS || te.Kind == errs.TransportConnection) {
		return &errs.EndpointConnectionError{URL: p.endpoint.URL, Err: te}
	}
	return err
}

// finish converts the final attempt into the caller's result.
func (p *Pipeline) finish(op Operation, a *attempt, n int) (*Result, error) {
	if err := outcomeError(op, a); err != nil {
		a.release()
		return nil, err
	}
	resp := a.outcome.Response
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Parsed:     resp.Parsed,
		Stream:     a.stream,
		Attempts:   n,
	}, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// outcomeError returns the error a caller would see for a: the attempt's
// own error, or an *errors.ApplicationError for error responses.
func outcomeError(op Operation, a *attempt) error {
	if a.outcome.Err != nil {
		return a.outcome.Err
	}
	resp := a.outcome.Response
	section, hasError := resp.Parsed["Error"].(map[string]any)
	if resp.StatusCode < 300 && !hasError {
		return nil
	}

	appErr := &errs.ApplicationError{
		StatusCode: resp.StatusCode,
		Operation:  op.Name,
		Response:   resp.Parsed,
	}
	if section != nil {
		appErr.Code, _ = section["Code"].(string)
		appErr.Message, _ = section["Message"].(string)
	}
	if md, ok := resp.Parsed["ResponseMetadata"].(map[string]any); ok {
		appErr.RequestID, _ = md["RequestId"].(string)
	}
	return appErr
}
