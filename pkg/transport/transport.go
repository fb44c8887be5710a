// Package transport performs single network exchanges and classifies their
// failures.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/ratelimit"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds connecting and waiting for response headers.
const DefaultTimeout = 60 * time.Second

// Transport sends one request and returns the response or a classified
// *errors.TransportError.
type Transport interface {
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Options configures an HTTPTransport.
type Options struct {
	// Timeout bounds dialing, the TLS handshake and the wait for response
	// headers. Reading a streamed body is not bounded.
	Timeout time.Duration
	// Verify disables certificate verification when false.
	Verify bool
	// CABundle is a PEM file of trusted roots used instead of the system
	// pool.
	CABundle string
	// Proxy selects a proxy per request. Nil means no proxy.
	Proxy func(*http.Request) (*url.URL, error)
	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool
	Logger  logger.Logger
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client *http.Client
	logger logger.Logger
}

// New creates an HTTPTransport.
func New(opts Options) (*HTTPTransport, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if !opts.Verify {
		tlsConfig.InsecureSkipVerify = true
	}
	if opts.CABundle != "" {
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", opts.CABundle)
		}
		tlsConfig.RootCAs = pool
	}

	base := &http.Transport{
		Proxy: opts.Proxy,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	var rt http.RoundTripper = base
	if opts.Tracing {
		rt = otelhttp.NewTransport(base)
	}
	return NewWithClient(&http.Client{Transport: rt}, opts.Logger), nil
}

// NewWithClient wraps an existing client. Redirects are not followed.
func NewWithClient(client *http.Client, log logger.Logger) *HTTPTransport {
	if log == nil {
		log = logger.GetLogger()
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPTransport{client: &c, logger: log}
}

// Send performs the exchange. The caller owns and must close the response
// body.
func (t *HTTPTransport) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	start := time.Now()
	t.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})

	resp, err := t.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		classified := Classify(req.URL.Redacted(), err)
		t.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Redacted(),
			"kind":     string(classified.Kind),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, classified
	}

	t.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.Redacted(),
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// Classify converts a send failure into a *errors.TransportError.
func Classify(rawURL string, err error) *errs.TransportError {
	var te *errs.TransportError
	if errors.As(err, &te) {
		return te
	}
	return &errs.TransportError{Kind: kindOf(err), URL: rawURL, Err: err}
}

func kindOf(err error) errs.TransportKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errs.TransportDNS
	}

	var (
		certErr      *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) || errors.As(err, &recordHeader) {
		return errs.TransportTLS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.TransportTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return errs.TransportConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return errs.TransportConnection
	}

	return errs.TransportUnknown
}

// RateLimited applies a Limiter before every send.
type RateLimited struct {
	Next    Transport
	Limiter ratelimit.Limiter
}

func (r *RateLimited) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.Next.Send(ctx, req)
}

// Func adapts a function into a Transport.
type Func func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f Func) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}
