package waiter

import (
	"context"
	"errors"

	errs "apiflow/pkg/errors"
)

// Response is the outcome of one polled call: either an output document
// (Ok) or a remote error (Err).
type Response struct {
	Output map[string]any
	Err    *RemoteError
}

// RemoteError is a structured error returned by the remote service.
type RemoteError struct {
	Code       string
	Message    string
	StatusCode int
	// Response is the full parsed error response when available.
	Response map[string]any
}

// Ok wraps a successful output document.
func Ok(output map[string]any) Response { return Response{Output: output} }

// Err wraps a remote error.
func Err(e *RemoteError) Response { return Response{Err: e} }

// IsErr reports whether r is the error variant.
func (r Response) IsErr() bool { return r.Err != nil }

// Document returns the value acceptors are evaluated against. The error
// variant becomes {"Error": {"Code", "Message"}, "ResponseMetadata":
// {"HTTPStatusCode"}}.
func (r Response) Document() map[string]any {
	if r.Err == nil {
		if r.Output == nil {
			return map[string]any{}
		}
		return r.Output
	}

	doc := make(map[string]any, len(r.Err.Response)+2)
	for k, v := range r.Err.Response {
		doc[k] = v
	}
	doc["Error"] = map[string]any{"Code": r.Err.Code, "Message": r.Err.Message}
	if r.Err.StatusCode != 0 {
		md := map[string]any{}
		if existing, ok := doc["ResponseMetadata"].(map[string]any); ok {
			for k, v := range existing {
				md[k] = v
			}
		}
		md["HTTPStatusCode"] = r.Err.StatusCode
		doc["ResponseMetadata"] = md
	}
	return doc
}

// Operation is any call a waiter can poll. A returned error stops the wait
// and is propagated unchanged; remote errors that acceptors should see
// must be returned as the Err variant.
type Operation func(ctx context.Context, params map[string]any) (Response, error)

// NormalizeOperation adapts a call that reports remote errors as
// *errors.ApplicationError.
func NormalizeOperation(call func(ctx context.Context, params map[string]any) (map[string]any, error)) Operation {
	return func(ctx context.Context, params map[string]any) (Response, error) {
		out, err := call(ctx, params)
		if err == nil {
			return Ok(out), nil
		}
		var appErr *errs.ApplicationError
		if errors.As(err, &appErr) {
			return Err(&RemoteError{
				Code:       appErr.Code,
				Message:    appErr.Message,
				StatusCode: appErr.StatusCode,
				Response:   appErr.Response,
			}), nil
		}
		return Response{}, err
	}
}

// LegacyOperation adapts a call whose errors may be of any type. Errors
// exposing ErrorCode and ErrorMessage become the Err variant; anything
// else is propagated.
func LegacyOperation(call func(ctx context.Context, params map[string]any) (map[string]any, error)) Operation {
	return func(ctx context.Context, params map[string]any) (Response, error) {
		out, err := call(ctx, params)
		if err == nil {
			return Ok(out), nil
		}
		var coded interface {
			ErrorCode() string
			ErrorMessage() string
		}
		if errors.As(err, &coded) {
			return Err(&RemoteError{Code: coded.ErrorCode(), Message: coded.ErrorMessage()}), nil
		}
		return Response{}, err
	}
}
