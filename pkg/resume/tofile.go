package resume

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Copy drains s into w. It returns once the transfer has finished and
// reports the first error: a write error (which cancels the transfer) or
// the transfer's terminal error.
func Copy(w io.Writer, s *Stream) error {
	ew := &errWriter{w: w}
	_, err := io.Copy(ew, s)
	if ew.err != nil {
		s.Cancel()
		err = ew.err
	}
	s.Close()
	<-s.Done()
	if err != nil {
		return err
	}
	return s.Err()
}

// ToFile fetches url into the file at path. It returns once the transfer
// has ended and the file is closed, with the first error of either side.
// Cancelling ctx cancels the transfer.
func ToFile(ctx context.Context, path, url string, opts ...Option) error {
	s, err := Fetch(ctx, url, opts...)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		s.Close()
		<-s.Done()
		return fmt.Errorf("create file: %w", err)
	}

	copyErr := Copy(f, s)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return fmt.Errorf("close file: %w", closeErr)
	}
	return nil
}

// errWriter remembers the first write error so Copy can tell it apart
// from a read error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}
