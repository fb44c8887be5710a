package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	errs "apiflow/pkg/errors"
)

var (
	errNotSeekable   = errors.New("body cannot be repositioned")
	errLeaseReleased = errors.New("request body was released")
)

// Replayable is implemented by bodies that can be repositioned to their
// original offset before a retransmission.
type Replayable interface {
	io.Reader
	Reset() error
}

// Sized is implemented by bodies that know how many bytes remain from
// their original offset.
type Sized interface {
	Size() int64
}

// BytesBody is an in-memory body.
type BytesBody struct {
	data []byte
	r    *bytes.Reader
}

// Bytes wraps b as a replayable body. b must not be modified afterwards.
func Bytes(b []byte) *BytesBody {
	return &BytesBody{data: b, r: bytes.NewReader(b)}
}

// String wraps s as a replayable body.
func String(s string) *BytesBody {
	return Bytes([]byte(s))
}

func (b *BytesBody) Read(p []byte) (int, error) { return b.r.Read(p) }

// Reset rewinds to the first byte.
func (b *BytesBody) Reset() error {
	b.r.Reset(b.data)
	return nil
}

func (b *BytesBody) Size() int64 { return int64(len(b.data)) }

// Data returns the full payload.
func (b *BytesBody) Data() []byte { return b.data }

// SeekableBody replays an io.ReadSeeker from the offset it had when it was
// wrapped.
type SeekableBody struct {
	rs     io.ReadSeeker
	offset int64
	size   int64
}

// Seekable wraps rs, recording its current position as the replay offset.
func Seekable(rs io.ReadSeeker) (*SeekableBody, error) {
	offset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &errs.NotReplayableError{Err: fmt.Errorf("record offset: %w", err)}
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &errs.NotReplayableError{Err: fmt.Errorf("measure stream: %w", err)}
	}
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, &errs.NotReplayableError{Err: fmt.Errorf("restore offset: %w", err)}
	}
	return &SeekableBody{rs: rs, offset: offset, size: end - offset}, nil
}

func (s *SeekableBody) Read(p []byte) (int, error) { return s.rs.Read(p) }

// Reset seeks back to the recorded offset.
func (s *SeekableBody) Reset() error {
	if _, err := s.rs.Seek(s.offset, io.SeekStart); err != nil {
		return &errs.NotReplayableError{Err: err}
	}
	return nil
}

func (s *SeekableBody) Size() int64 { return s.size }

// Offset returns the replay offset.
func (s *SeekableBody) Offset() int64 { return s.offset }

// IsReplayable reports whether body can be sent more than once. A nil body
// is trivially replayable.
func IsReplayable(body io.Reader) bool {
	if body == nil {
		return true
	}
	_, ok := body.(Replayable)
	return ok
}

// Rewind resets body if it is replayable. It fails with a
// *errors.NotReplayableError for any other body.
func Rewind(body io.Reader) error {
	if body == nil {
		return nil
	}
	r, ok := body.(Replayable)
	if !ok {
		return &errs.NotReplayableError{Err: fmt.Errorf("body of type %T cannot be repositioned", body)}
	}
	return r.Reset()
}

// WithReplayableBody returns spec with a plain io.ReadSeeker body, such as
// an *os.File or *strings.Reader, wrapped by Seekable so it can be sent
// again from its current offset. spec itself is not modified. When the
// body cannot report its position the original spec is returned with the
// error, and the body stays single-use.
func (s *Spec) WithReplayableBody() (*Spec, error) {
	if IsReplayable(s.Body) {
		return s, nil
	}
	rs, ok := s.Body.(io.ReadSeeker)
	if !ok {
		return s, nil
	}
	body, err := Seekable(rs)
	if err != nil {
		return s, err
	}
	cp := *s
	cp.Body = body
	return &cp, nil
}
