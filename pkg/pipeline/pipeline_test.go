package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"apiflow/pkg/auth"
	"apiflow/pkg/endpoint"
	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/parser"
	"apiflow/pkg/request"
	"apiflow/pkg/retry"
	"apiflow/pkg/signer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step func(req *http.Request) (*http.Response, error)

// scriptedTransport replays one step per send and records what it saw.
// partial limits how many body bytes a send reads, by send index.
type scriptedTransport struct {
	mu       sync.Mutex
	steps    []step
	partial  map[int]int
	requests []*http.Request
	bodies   []string
}

func (s *scriptedTransport) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	body := ""
	if req.Body != nil {
		r := io.Reader(req.Body)
		if n, ok := s.partial[i]; ok {
			r = io.LimitReader(req.Body, int64(n))
		}
		data, _ := io.ReadAll(r)
		body = string(data)
	}
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()

	if i >= len(s.steps) {
		return nil, errors.New("unexpected send")
	}
	return s.steps[i](req)
}

func (s *scriptedTransport) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func respond(status int, body string) step {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    status,
			Header:        http.Header{"X-Amzn-Requestid": {"req-1"}},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
		}, nil
	}
}

func fail(kind errs.TransportKind) step {
	return func(req *http.Request) (*http.Response, error) {
		return nil, &errs.TransportError{Kind: kind, URL: req.URL.String(), Err: errors.New("boom")}
	}
}

// fakeClock ticks one second per Now and advances by each Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	events []string
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	c.events = append(c.events, "now")
	return c.now
}

func (c *fakeClock) current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.events = append(c.events, "sleep")
	c.now = c.now.Add(d)
	return nil
}

func testEndpoint() *endpoint.Endpoint {
	return &endpoint.Endpoint{
		URL:           "https://dynamodb.us-west-2.amazonaws.com",
		Host:          "dynamodb.us-west-2.amazonaws.com",
		ServiceID:     "dynamodb",
		SigningName:   "dynamodb",
		SigningRegion: "us-west-2",
	}
}

func newPipeline(t *testing.T, tr *scriptedTransport, reg *retry.Registry, opts ...func(*Options)) (*Pipeline, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	o := Options{
		Endpoint:  testEndpoint(),
		Transport: tr,
		Registry:  reg,
		Logger:    logger.NewNopLogger(),
		Clock:     clock,
	}
	for _, fn := range opts {
		fn(&o)
	}
	p, err := New(o)
	require.NoError(t, err)
	return p, clock
}

var describeTable = Operation{Name: "DescribeTable", Protocol: parser.ProtocolJSON}

func registryWith(policies ...retry.Policy) *retry.Registry {
	reg := retry.NewRegistry()
	for _, p := range policies {
		reg.Register("", p)
	}
	return reg
}

func TestNewRequiresEndpointAndTransport(t *testing.T) {
	var cfgErr *errs.ConfigurationError

	_, err := New(Options{Transport: &scriptedTransport{}})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(Options{Endpoint: testEndpoint()})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(Options{Endpoint: testEndpoint(), Transport: &scriptedTransport{}, AttemptCeiling: -1})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExecuteRetriesConnectionErrorsEndToEnd(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		fail(errs.TransportConnection),
		fail(errs.TransportConnection),
		respond(200, `{"Ok":true}`),
	}}
	p, clock := newPipeline(t, tr, registryWith(retry.ConnectionErrors(retry.Constant(50*time.Millisecond))))

	res, err := p.Execute(context.Background(), &request.Spec{Body: request.String(`{"TableName":"t"}`)}, describeTable)
	require.NoError(t, err)

	assert.Equal(t, 3, tr.sends())
	assert.Equal(t, true, res.Parsed["Ok"])
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.sleeps)
}

func TestExecuteReplaysBodyByteForByte(t *testing.T) {
	rs := strings.NewReader("HEADER|payload-to-replay")
	_, err := rs.Seek(7, io.SeekStart)
	require.NoError(t, err)
	body, err := request.Seekable(rs)
	require.NoError(t, err)

	tr := &scriptedTransport{steps: []step{respond(500, ""), respond(503, ""), respond(200, `{}`)}}
	p, _ := newPipeline(t, tr, registryWith(retry.StatusCodes([]int{500, 503}, retry.Constant(0))))

	_, err = p.Execute(context.Background(), &request.Spec{Method: http.MethodPut, Body: body}, describeTable)
	require.NoError(t, err)

	require.Len(t, tr.bodies, 3)
	for _, b := range tr.bodies {
		assert.Equal(t, "payload-to-replay", b)
	}
}

func TestExecuteSignsEveryAttemptAfresh(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(errs.TransportTimeout), respond(200, `{}`)}}
	creds := auth.NewStaticProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "")
	p, _ := newPipeline(t, tr, registryWith(retry.ConnectionErrors(retry.Constant(0))), func(o *Options) {
		o.Signer = signer.NewV4Signer(creds)
	})

	_, err := p.Execute(context.Background(), &request.Spec{Body: request.String("{}")}, describeTable)
	require.NoError(t, err)
	require.Len(t, tr.requests, 2)

	first, second := tr.requests[0], tr.requests[1]
	assert.NotEmpty(t, first.Header.Get("Authorization"))
	assert.NotEqual(t, first.Header.Get("X-Amz-Date"), second.Header.Get("X-Amz-Date"))
	assert.NotEqual(t, first.Header.Get("Authorization"), second.Header.Get("Authorization"))
	assert.Len(t, second.Header.Values("Authorization"), 1)

	assert.Equal(t, first.Header.Get(InvocationIDHeader), second.Header.Get(InvocationIDHeader))
	assert.Equal(t, "attempt=1", first.Header.Get(AttemptHeader))
	assert.Equal(t, "attempt=2", second.Header.Get(AttemptHeader))
}

func TestExecuteSignsAfterRetryDelay(t *testing.T) {
	var (
		clock  *fakeClock
		sentAt []time.Time
	)
	stamp := func(next step) step {
		return func(req *http.Request) (*http.Response, error) {
			sentAt = append(sentAt, clock.current())
			return next(req)
		}
	}

	tr := &scriptedTransport{steps: []step{stamp(fail(errs.TransportConnection)), stamp(respond(200, `{}`))}}
	creds := auth.NewStaticProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "")
	var p *Pipeline
	p, clock = newPipeline(t, tr, registryWith(retry.ConnectionErrors(retry.Constant(20*time.Minute))), func(o *Options) {
		o.Signer = signer.NewV4Signer(creds)
	})

	_, err := p.Execute(context.Background(), &request.Spec{Body: request.String("{}")}, describeTable)
	require.NoError(t, err)
	require.Len(t, sentAt, 2)

	assert.Equal(t, []string{"now", "sleep", "now"}, clock.events)
	assert.GreaterOrEqual(t, sentAt[1].Sub(sentAt[0]), 20*time.Minute)
	assert.Equal(t, sentAt[1].Format("20060102T150405Z"), tr.requests[1].Header.Get("X-Amz-Date"))
}

func TestExecuteRetriesPlainSeekerBody(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(503, ""), respond(200, `{}`)}}
	p, _ := newPipeline(t, tr, registryWith(retry.StatusCodes([]int{503}, retry.Constant(0))))

	body := strings.NewReader("prefix:payload")
	_, err := body.Seek(7, io.SeekStart)
	require.NoError(t, err)
	spec := &request.Spec{Method: http.MethodPut, Body: body}

	res, err := p.Execute(context.Background(), spec, describeTable)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"payload", "payload"}, tr.bodies)
	assert.Same(t, body, spec.Body)
}

func TestExecuteReplaysPartiallySentBody(t *testing.T) {
	tr := &scriptedTransport{
		steps:   []step{fail(errs.TransportConnection), respond(200, `{}`)},
		partial: map[int]int{0: 4},
	}
	p, _ := newPipeline(t, tr, registryWith(retry.ConnectionErrors(retry.Constant(0))))

	_, err := p.Execute(context.Background(), &request.Spec{Method: http.MethodPut, Body: request.String("payload-bytes")}, describeTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"payl", "payload-bytes"}, tr.bodies)

	// The first request's body was cut off once its exchange ended.
	n, err := tr.requests[0].Body.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestExecuteFirstNonNoneDelayWins(t *testing.T) {
	var calls [3]int
	policy := func(i int, d time.Duration, retries bool) retry.Policy {
		return retry.Func(string(rune('a'+i)), func(_ context.Context, out retry.Outcome) retry.Decision {
			calls[i]++
			if !retries || out.Attempt > 1 {
				return retry.Abstain
			}
			return retry.After(d)
		})
	}

	tr := &scriptedTransport{steps: []step{respond(500, ""), respond(200, `{}`)}}
	p, clock := newPipeline(t, tr, registryWith(
		policy(0, 0, false),
		policy(1, 3*time.Second, true),
		policy(2, 9*time.Second, true),
	))

	_, err := p.Execute(context.Background(), nil, describeTable)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.sleeps)
	assert.Equal(t, [3]int{2, 2, 2}, calls)
}

func TestExecuteScopedPolicies(t *testing.T) {
	reg := retry.NewRegistry()
	reg.Register("dynamodb.PutItem", retry.StatusCodes([]int{500}, retry.Constant(0)))

	tr := &scriptedTransport{steps: []step{respond(500, "")}}
	p, _ := newPipeline(t, tr, reg)

	_, err := p.Execute(context.Background(), nil, describeTable)
	var appErr *errs.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 1, tr.sends())
}

func TestExecuteCancelledDuringSendSkipsPolicies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var consulted int
	reg := registryWith(retry.Func("count", func(context.Context, retry.Outcome) retry.Decision {
		consulted++
		return retry.After(0)
	}))

	tr := &scriptedTransport{steps: []step{func(req *http.Request) (*http.Response, error) {
		cancel()
		return nil, &errs.TransportError{Kind: errs.TransportUnknown, Err: context.Canceled}
	}}}
	p, _ := newPipeline(t, tr, reg)

	_, err := p.Execute(ctx, nil, describeTable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, consulted)
}

func TestExecuteCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := registryWith(retry.Func("cancel-then-retry", func(context.Context, retry.Outcome) retry.Decision {
		cancel()
		return retry.After(time.Hour)
	}))

	tr := &scriptedTransport{steps: []step{respond(500, "")}}
	p, _ := newPipeline(t, tr, reg)

	_, err := p.Execute(ctx, nil, describeTable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tr.sends())
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &scriptedTransport{}
	p, _ := newPipeline(t, tr, nil)

	_, err := p.Execute(ctx, nil, describeTable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tr.sends())
}

func TestExecuteNonReplayableBodyIsNotRetried(t *testing.T) {
	var consulted int
	reg := registryWith(retry.Func("always", func(context.Context, retry.Outcome) retry.Decision {
		consulted++
		return retry.After(0)
	}))

	tr := &scriptedTransport{steps: []step{respond(500, `{"__type":"InternalFailure","message":"oops"}`)}}
	p, clock := newPipeline(t, tr, reg)

	body := io.LimitReader(strings.NewReader("one-shot"), 8)
	_, err := p.Execute(context.Background(), &request.Spec{Body: body}, describeTable)

	var appErr *errs.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "InternalFailure", appErr.Code)
	assert.Equal(t, 1, tr.sends())
	assert.Equal(t, 1, consulted)
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, "one-shot", tr.bodies[0])
}

type flakyBody struct {
	*strings.Reader
	resets int
}

func (f *flakyBody) Reset() error {
	f.resets++
	return errors.New("stream closed")
}

func TestExecuteResetFailure(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(503, "")}}
	p, _ := newPipeline(t, tr, registryWith(retry.StatusCodes([]int{503}, retry.Constant(0))))

	_, err := p.Execute(context.Background(), &request.Spec{Body: &flakyBody{Reader: strings.NewReader("x")}}, describeTable)

	var exceeded *errs.RetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 1, exceeded.Attempts)
	assert.Equal(t, 1, tr.sends())
	assert.ErrorIs(t, err, errs.ErrNotReplayable)
}

func TestExecuteAttemptCeiling(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(500, ""), respond(500, ""), respond(500, "")}}
	p, _ := newPipeline(t, tr, registryWith(retry.StatusCodes([]int{500}, retry.Constant(0))), func(o *Options) {
		o.AttemptCeiling = 2
	})

	_, err := p.Execute(context.Background(), nil, describeTable)

	var exceeded *errs.RetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 2, exceeded.Attempts)
	assert.Equal(t, 2, tr.sends())

	var appErr *errs.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 500, appErr.StatusCode)
}

func TestExecuteRewritesDNSFailure(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(errs.TransportDNS)}}
	p, _ := newPipeline(t, tr, nil)

	_, err := p.Execute(context.Background(), nil, describeTable)

	var connErr *errs.EndpointConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, testEndpoint().URL, connErr.URL)

	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, errs.TransportDNS, te.Kind)
}

func TestExecuteTimeoutPassesThrough(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(errs.TransportTimeout)}}
	p, _ := newPipeline(t, tr, nil)

	_, err := p.Execute(context.Background(), nil, describeTable)

	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, errs.TransportTimeout, te.Kind)
	var connErr *errs.EndpointConnectionError
	assert.False(t, errors.As(err, &connErr))
}

func TestExecuteApplicationError(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(400, `{"__type":"com.amazonaws#ResourceNotFoundException","message":"Table not found"}`)}}
	p, _ := newPipeline(t, tr, nil)

	_, err := p.Execute(context.Background(), nil, describeTable)

	var appErr *errs.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.StatusCode)
	assert.Equal(t, "ResourceNotFoundException", appErr.Code)
	assert.Equal(t, "Table not found", appErr.Message)
	assert.Equal(t, "req-1", appErr.RequestID)
	assert.Equal(t, "DescribeTable", appErr.Operation)
	assert.Equal(t, errs.ErrorTypeClientError, appErr.Type())
}

func TestExecuteErrorBodyIn200(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		respond(200, `<Error><Code>InternalError</Code><Message>retry me</Message></Error>`),
		respond(200, `<CopyObjectResult><ETag>"abc"</ETag></CopyObjectResult>`),
	}}
	reg := retry.NewRegistry()
	reg.Register("s3", retry.ErrorBodyIn200(retry.Constant(0)))

	p, _ := newPipeline(t, tr, reg, func(o *Options) {
		ep := testEndpoint()
		ep.ServiceID = "s3"
		o.Endpoint = ep
	})

	res, err := p.Execute(context.Background(), &request.Spec{Method: http.MethodPut, Path: "/bucket/key"},
		Operation{Name: "CopyObject", Protocol: parser.ProtocolRestXML})
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, res.Parsed["ETag"])
	assert.Equal(t, 2, tr.sends())
}

func TestExecuteStreamingOutput(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(200, "file-contents")}}
	p, _ := newPipeline(t, tr, nil)

	res, err := p.Execute(context.Background(), &request.Spec{Method: http.MethodGet, Path: "/bucket/key"}, Operation{
		Name:            "GetObject",
		Protocol:        parser.ProtocolRestXML,
		StreamingOutput: true,
		Output:          &parser.Shape{Payload: "Body"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	assert.Same(t, res.Stream, res.Parsed["Body"])

	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "file-contents", string(data))
	assert.NoError(t, res.Stream.Close())
}

func TestExecuteHooksRunBeforeSigning(t *testing.T) {
	var seen []string
	recorder := signerFunc(func(req *http.Request) {
		seen = append(seen, req.Header.Get("User-Agent"))
	})

	tr := &scriptedTransport{steps: []step{fail(errs.TransportConnection), respond(200, `{}`)}}
	p, _ := newPipeline(t, tr, registryWith(retry.ConnectionErrors(retry.Constant(0))), func(o *Options) {
		o.Signer = recorder
		o.Hooks = []RequestHook{func(_ context.Context, req *http.Request, op Operation, attempt int) error {
			req.Header.Set("User-Agent", "apiflow-test/"+op.Name)
			return nil
		}}
	})

	_, err := p.Execute(context.Background(), nil, describeTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"apiflow-test/DescribeTable", "apiflow-test/DescribeTable"}, seen)
}

func TestExecuteHookErrorAborts(t *testing.T) {
	tr := &scriptedTransport{}
	p, _ := newPipeline(t, tr, nil, func(o *Options) {
		o.Hooks = []RequestHook{func(context.Context, *http.Request, Operation, int) error {
			return errors.New("denied")
		}}
	})

	_, err := p.Execute(context.Background(), nil, describeTable)
	assert.ErrorContains(t, err, "denied")
	assert.Zero(t, tr.sends())
}

func TestExecuteUnknownProtocol(t *testing.T) {
	p, _ := newPipeline(t, &scriptedTransport{}, nil)
	_, err := p.Execute(context.Background(), nil, Operation{Name: "X", Protocol: "carrier-pigeon"})
	var cfgErr *errs.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExecuteLogsRetries(t *testing.T) {
	log := logger.NewTestLogger()
	tr := &scriptedTransport{steps: []step{respond(503, ""), respond(200, `{}`)}}
	p, _ := newPipeline(t, tr, registryWith(retry.StatusCodes([]int{503}, retry.Constant(0))), func(o *Options) {
		o.Logger = log
	})

	_, err := p.Execute(context.Background(), nil, describeTable)
	require.NoError(t, err)
	assert.True(t, log.HasMessage("INFO", "retrying request"))
	assert.True(t, log.HasMessage("WARN", "attempt returned server error"))
}

type signerFunc func(req *http.Request)

func (f signerFunc) Sign(_ context.Context, req *http.Request, _ io.Reader, _ signer.Scope, _ time.Time) error {
	f(req)
	return nil
}
