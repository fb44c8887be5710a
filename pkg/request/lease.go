package request

import (
	"io"
	"net/http"
	"sync"

	errs "apiflow/pkg/errors"
)

// bodyLease hands the shared Spec body to one transmission at a time.
// Every reader it gives out belongs to a generation; starting a new
// generation or releasing the lease turns older readers into empty ones,
// so a transport goroutine that is still writing can never read the body
// after it has been repositioned.
type bodyLease struct {
	mu       sync.Mutex
	body     io.Reader
	gen      int
	released bool
}

type leaseReader struct {
	lease *bodyLease
	gen   int
}

func (r *leaseReader) Read(p []byte) (int, error) {
	l := r.lease
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || r.gen != l.gen {
		return 0, io.EOF
	}
	return l.body.Read(p)
}

// Close detaches the reader. It does not close the shared body.
func (r *leaseReader) Close() error {
	l := r.lease
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.gen == l.gen {
		l.gen++
	}
	return nil
}

func newLease(body io.Reader) (*bodyLease, *leaseReader) {
	l := &bodyLease{body: body}
	return l, &leaseReader{lease: l}
}

// renew repositions a replayable body and returns a reader for the next
// generation. net/http calls it through Request.GetBody.
func (l *bodyLease) renew() (io.ReadCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, &errs.NotReplayableError{Err: errLeaseReleased}
	}
	r, ok := l.body.(Replayable)
	if !ok {
		return nil, &errs.NotReplayableError{Err: errNotSeekable}
	}
	l.gen++
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return &leaseReader{lease: l, gen: l.gen}, nil
}

func (l *bodyLease) release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

// Release detaches req from the Spec body it was built from. It waits
// for a read in progress to finish; afterwards any reader net/http still
// holds returns io.EOF. Callers release a request before rewinding the
// body for another attempt. Requests not built by Build are ignored.
func Release(req *http.Request) {
	if req == nil {
		return
	}
	if r, ok := req.Body.(*leaseReader); ok {
		r.lease.release()
	}
}
