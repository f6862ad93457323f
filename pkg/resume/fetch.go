package resume

import (
	"context"
	"io"
	"sync"
)

// Fetch validates the options, starts a transfer of url and returns its
// output. url may be empty when WithPre resolves it. Option errors are
// returned here, before any request is made; every later failure surfaces
// as the single terminal error of the stream.
func Fetch(ctx context.Context, url string, opts ...Option) (*Stream, error) {
	t, err := New(url, opts...)
	if err != nil {
		return nil, err
	}
	return t.Start(ctx), nil
}

// Stream is the output of a transfer. Reads block until the transfer
// delivers data, and the transfer does not read from the network faster
// than the stream is consumed.
//
// Read returns io.EOF after a successful transfer, ErrCancelled after
// Cancel, or an *ExhaustedError once retries ran out.
type Stream struct {
	t         *Transfer
	pr        *io.PipeReader
	transform TransformFunc

	once sync.Once
	r    io.Reader
	err  error
}

// Read implements io.Reader. The transform, if any, is applied on the
// first call.
func (s *Stream) Read(p []byte) (int, error) {
	s.once.Do(s.init)
	if s.err != nil {
		return 0, s.err
	}
	return s.r.Read(p)
}

func (s *Stream) init() {
	s.r = s.pr
	if s.transform == nil {
		return
	}
	r, err := s.transform(s.pr)
	if err != nil {
		s.err = err
		s.t.Cancel()
		return
	}
	s.r = r
}

// Close cancels the transfer if it is still running and releases the
// stream.
func (s *Stream) Close() error {
	s.t.Cancel()
	s.once.Do(func() { s.r = s.pr })
	if c, ok := s.r.(io.Closer); ok && s.r != io.Reader(s.pr) {
		c.Close()
	}
	return s.pr.Close()
}

// Cancel cancels the underlying transfer. It is idempotent.
func (s *Stream) Cancel() { s.t.Cancel() }

// Transfer returns the transfer feeding this stream.
func (s *Stream) Transfer() *Transfer { return s.t }

// Snapshot is a shortcut for s.Transfer().Snapshot().
func (s *Stream) Snapshot() Snapshot { return s.t.Snapshot() }

// Done is closed once the transfer reached a terminal state.
func (s *Stream) Done() <-chan struct{} { return s.t.Done() }

// Err returns the transfer's terminal error once Done is closed.
func (s *Stream) Err() error { return s.t.Err() }
