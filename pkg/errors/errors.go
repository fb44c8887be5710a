package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeThrottling  ErrorType = "throttling"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeThrottling, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504:
		return true
	case 501: // Not Implemented won't change
		return false
	default:
		return statusCode >= 500
	}
}

// ClassifyStatusCode maps an HTTP status code onto an ErrorType.
func ClassifyStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 429:
		return ErrorTypeThrottling
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

// TransportKind classifies a transport-level failure.
type TransportKind string

const (
	TransportConnection TransportKind = "connection"
	TransportDNS        TransportKind = "dns"
	TransportTimeout    TransportKind = "timeout"
	TransportTLS        TransportKind = "tls"
	TransportUnknown    TransportKind = "unknown"
)

// TransportError is returned when the transport never produced a response.
type TransportError struct {
	Kind TransportKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s error sending request to %s: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Type returns the ErrorType classification of the failure.
func (e *TransportError) Type() ErrorType {
	if e.Kind == TransportTimeout {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

// EndpointConnectionError is the specialised form of a TransportError whose
// cause is a name-resolution or connectivity failure. It usually means the
// region or endpoint URL is misconfigured.
type EndpointConnectionError struct {
	URL string
	Err error
}

func (e *EndpointConnectionError) Error() string {
	return fmt.Sprintf("could not connect to the endpoint URL: %q", e.URL)
}

func (e *EndpointConnectionError) Unwrap() error { return e.Err }

// ApplicationError is returned when the remote service responded with a
// structured failure.
type ApplicationError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Operation  string
	// Response is the parsed error response, including the Error and
	// ResponseMetadata sections.
	Response map[string]any
}

func (e *ApplicationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown"
	}
	if e.Operation != "" {
		return fmt.Sprintf("an error occurred (%s) when calling the %s operation: %s", e.Code, e.Operation, msg)
	}
	return fmt.Sprintf("an error occurred (%s): %s", e.Code, msg)
}

// ErrorCode returns the service error code.
func (e *ApplicationError) ErrorCode() string { return e.Code }

// ErrorMessage returns the service error message.
func (e *ApplicationError) ErrorMessage() string { return e.Message }

// Type classifies the error by its HTTP status code.
func (e *ApplicationError) Type() ErrorType {
	return ClassifyStatusCode(e.StatusCode)
}

// ErrNotReplayable is matched by errors.Is when a request body cannot be
// repositioned for another attempt.
var ErrNotReplayable = errors.New("request body is not replayable")

// NotReplayableError reports a body that failed to reset.
type NotReplayableError struct {
	Err error
}

func (e *NotReplayableError) Error() string {
	if e.Err == nil {
		return ErrNotReplayable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrNotReplayable.Error(), e.Err)
}

func (e *NotReplayableError) Unwrap() error { return e.Err }

func (e *NotReplayableError) Is(target error) bool { return target == ErrNotReplayable }

// RetriesExceededError is returned when a call gave up retrying, either
// because its attempt ceiling was reached or because the body could not be
// replayed.
type RetriesExceededError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *RetriesExceededError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retries exceeded after %d attempts (%s): %v", e.Attempts, e.Reason, e.Err)
	}
	return fmt.Sprintf("retries exceeded after %d attempts (%s)", e.Attempts, e.Reason)
}

func (e *RetriesExceededError) Unwrap() error { return e.Err }

// Waiter failure sentinels, matched with errors.Is against a *WaiterError.
var (
	ErrWaiterTerminalFailure  = errors.New("waiter encountered a terminal failure state")
	ErrWaiterAttemptsExceeded = errors.New("max attempts exceeded")
)

// WaiterError is returned by a waiter that stopped without success.
type WaiterError struct {
	Name   string
	Reason string
	// Kind is ErrWaiterTerminalFailure or ErrWaiterAttemptsExceeded.
	Kind         error
	Attempts     int
	LastResponse map[string]any
}

func (e *WaiterError) Error() string {
	return fmt.Sprintf("waiter %s failed: %s", e.Name, e.Reason)
}

func (e *WaiterError) Is(target error) bool { return target == e.Kind }

// ConfigurationError reports a malformed waiter, retry or endpoint
// configuration. It is raised at load time.
type ConfigurationError struct {
	Source string
	Msg    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	s := e.Msg
	if e.Source != "" {
		s = e.Source + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return "configuration error: " + s
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IncompleteReadError is returned by a streaming body that ended before the
// advertised content length.
type IncompleteReadError struct {
	ActualBytes   int64
	ExpectedBytes int64
}

func (e *IncompleteReadError) Error() string {
	return fmt.Sprintf("%d read, but total bytes expected is %d", e.ActualBytes, e.ExpectedBytes)
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var typed interface{ Type() ErrorType }
	if errors.As(err, &typed) {
		return typed.Type()
	}
	var conn *EndpointConnectionError
	if errors.As(err, &conn) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// ResponseParseError is returned when a response body does not match its
// protocol.
type ResponseParseError struct {
	StatusCode int
	Protocol   string
	Err        error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("unable to parse %s response (status %d): %v", e.Protocol, e.StatusCode, e.Err)
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

// Type returns ErrorTypeParsing.
func (e *ResponseParseError) Type() ErrorType { return ErrorTypeParsing }
