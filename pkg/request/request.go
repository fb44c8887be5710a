package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Spec describes an operation's request independent of any endpoint or
// attempt. The pipeline builds a fresh *http.Request from it on every
// attempt.
type Spec struct {
	Method string
	// Path is appended to the endpoint URL's path. It may carry a query.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is nil, a Replayable body, or any io.Reader. A plain reader
	// can only be sent once.
	Body io.Reader
}

// Build creates an addressed request for spec against endpointURL. The
// request reads spec.Body through a lease: callers must Release the
// request once its exchange is over, then Rewind the body before building
// another request for a retry.
func Build(ctx context.Context, endpointURL string, spec *Spec) (*http.Request, error) {
	base, err := url.Parse(endpointURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint URL: %w", err)
	}

	target := *base
	path, rawQuery, _ := strings.Cut(spec.Path, "?")
	if path != "" {
		target.Path = joinPath(base.Path, path)
		target.RawPath = ""
	}
	if target.Path == "" {
		target.Path = "/"
	}

	query := target.Query()
	if rawQuery != "" {
		extra, err := url.ParseQuery(rawQuery)
		if err != nil {
			return nil, fmt.Errorf("parse path query: %w", err)
		}
		for k, vs := range extra {
			query[k] = append(query[k], vs...)
		}
	}
	for k, vs := range spec.Query {
		query[k] = append(query[k], vs...)
	}
	target.RawQuery = query.Encode()

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}

	var (
		lease *bodyLease
		body  io.Reader
	)
	if spec.Body != nil {
		var r *leaseReader
		lease, r = newLease(spec.Body)
		body = r
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range spec.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if lease != nil && IsReplayable(spec.Body) {
		req.GetBody = lease.renew
	}
	if sized, ok := spec.Body.(Sized); ok {
		req.ContentLength = sized.Size()
		if req.ContentLength == 0 {
			req.Body = http.NoBody
			req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		}
	}
	return req, nil
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		if !strings.HasPrefix(p, "/") {
			return "/" + p
		}
		return p
	case strings.HasSuffix(base, "/") && strings.HasPrefix(p, "/"):
		return base + p[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(p, "/"):
		return base + "/" + p
	default:
		return base + p
	}
}
