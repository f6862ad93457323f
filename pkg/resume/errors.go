package resume

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error surfaced by a transfer matches exactly one of
// these with errors.Is.
var (
	// ErrInvalidOptions is returned synchronously by Fetch when the options
	// are unusable. It is never retried.
	ErrInvalidOptions = errors.New("resume: invalid options")

	// ErrPre marks a failure of the pre-request hook, including a hook that
	// returned without a URL. It is retried like a transport error.
	ErrPre = errors.New("resume: pre hook failed")

	// ErrInconsistent marks a wire-level contract violation: a mismatched
	// range, a wrong content length, a changed fingerprint or a body that
	// ended early. It is retried like a transport error.
	ErrInconsistent = errors.New("resume: transfer inconsistent")

	// ErrCancelled is the terminal error of a cancelled transfer.
	ErrCancelled = errors.New("resume: transfer cancelled")

	// ErrIdle is the cause used when the idle watchdog aborts an attempt.
	ErrIdle = errors.New("resume: connection idle")

	// ErrExhausted is matched by *ExhaustedError.
	ErrExhausted = errors.New("resume: retries exhausted")
)

// errWindowDone aborts a request once every byte of the window arrived.
var errWindowDone = errors.New("resume: window complete")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("resume: unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("resume: unexpected status: %d %s", e.Code, http.StatusText(e.Code))
}

// ExhaustedError is the terminal error of a transfer that ran out of
// attempts or whose backoff policy asked to stop.
//
// Use errors.As to inspect the counters and errors.Unwrap (or errors.Is)
// to reach the error of the last attempt.
type ExhaustedError struct {
	Attempt      int   // consecutive failed attempts
	AttemptTotal int   // attempts made over the whole transfer
	Last         error // error of the final attempt
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("resume: failed - retries exhausted (%d, %d total)", e.Attempt, e.AttemptTotal)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is reports ErrExhausted so callers need not know the concrete type.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInconsistent}, args...)...)
}

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidOptions}, args...)...)
}
