package parser

import (
	"io"
	"sync"

	errs "apiflow/pkg/errors"
)

// StreamingBody wraps a response body and checks at EOF that the advertised
// content length was delivered.
type StreamingBody struct {
	mu       sync.Mutex
	body     io.ReadCloser
	expected int64
	read     int64
}

// NewStreamingBody wraps body. A negative length disables the check.
func NewStreamingBody(body io.ReadCloser, contentLength int64) *StreamingBody {
	return &StreamingBody{body: body, expected: contentLength}
}

// Read reads from the underlying body. A short stream fails with
// *errors.IncompleteReadError instead of io.EOF.
func (s *StreamingBody) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.body.Read(p)
	s.read += int64(n)
	if err == io.EOF && s.expected >= 0 && s.read != s.expected {
		return n, &errs.IncompleteReadError{ActualBytes: s.read, ExpectedBytes: s.expected}
	}
	return n, err
}

// Close releases the underlying connection.
func (s *StreamingBody) Close() error {
	return s.body.Close()
}

// ContentLength returns the advertised length, or -1 when unknown.
func (s *StreamingBody) ContentLength() int64 {
	return s.expected
}
