package resume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	gulphttp "github.com/ligustah/gulp/internal/http"
)

// Transfer is one logical resumable fetch. It is driven by a single
// goroutine started by Start; other goroutines may only call Cancel,
// Snapshot, Done and Err.
type Transfer struct {
	id     string
	opts   Options
	client *gulphttp.Client
	log    logrus.FieldLogger
	obs    observers

	// base carries the caller's context values without its cancellation;
	// cancellation reaches operations through Cancel.
	base context.Context

	// Owned by the run goroutine.
	header       http.Header // extra headers resolved by the pre hook
	requestFired bool
	pw           *io.PipeWriter
	pr           *io.PipeReader

	startOnce sync.Once
	stream    *Stream
	done      chan struct{}

	mu           sync.Mutex
	state        State
	url          string
	window       *Window
	attempt      int
	attemptTotal int
	fingerprint  Fingerprint
	responded    bool
	cancelled    bool
	pending      *pending
	lastErr      error
	err          error // terminal error, valid once done is closed
}

// New validates the options and returns a transfer that has not started.
// Configuration problems are reported here as ErrInvalidOptions.
func New(url string, opts ...Option) (*Transfer, error) {
	o := DefaultOptions()
	o.URL = url
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	var client *gulphttp.Client
	if o.Client != nil {
		client = gulphttp.Wrap(o.Client)
	} else {
		client = gulphttp.NewClient(gulphttp.Options{
			MaxIdleConnsPerHost:   gulphttp.DefaultOptions().MaxIdleConnsPerHost,
			ConnectTimeout:        o.Timeouts.Connect,
			TLSHandshakeTimeout:   o.Timeouts.TLSHandshake,
			ResponseHeaderTimeout: o.Timeouts.ResponseHeader,
		})
	}

	id := uuid.NewString()
	logger := o.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	pr, pw := io.Pipe()
	return &Transfer{
		id:     id,
		opts:   o,
		client: client,
		log:    logger.WithField("transfer_id", id),
		obs:    observers(o.Observers),
		url:    o.URL,
		window: NewWindow(o.Offset, o.Length),
		pr:     pr,
		pw:     pw,
		done:   make(chan struct{}),
	}, nil
}

// ID returns the unique identifier used in log entries.
func (t *Transfer) ID() string { return t.id }

// Start launches the transfer and returns its output. Calling Start again
// returns the same stream. Cancelling ctx cancels the transfer.
func (t *Transfer) Start(ctx context.Context) *Stream {
	t.startOnce.Do(func() {
		t.base = context.WithoutCancel(ctx)
		t.stream = &Stream{t: t, pr: t.pr, transform: t.opts.Transform}
		stop := context.AfterFunc(ctx, t.Cancel)
		go func() {
			defer stop()
			t.run()
		}()
	})
	return t.stream
}

// Cancel stops the transfer. The output ends with ErrCancelled unless the
// transfer already finished. Cancel never blocks and may be called any
// number of times.
func (t *Transfer) Cancel() {
	t.mu.Lock()
	if t.cancelled || t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	p := t.pending
	t.mu.Unlock()

	// Unblocks a write the consumer is not reading.
	t.pw.CloseWithError(ErrCancelled)

	if p != nil {
		t.log.WithFields(logrus.Fields{
			"pending":     p.kind.String(),
			"pending_for": time.Since(p.since),
		}).Debug("Cancelling transfer")
		p.abort(ErrCancelled)
	} else {
		t.log.Debug("Cancelling transfer")
	}
}

// Snapshot returns a copy of the transfer's bookkeeping.
func (t *Transfer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:           t.id,
		State:        t.state,
		URL:          t.url,
		Offset:       t.window.Offset,
		Length:       t.window.Length,
		Position:     t.window.Position,
		Total:        t.window.Total(),
		Attempt:      t.attempt,
		AttemptTotal: t.attemptTotal,
		Fingerprint:  t.fingerprint,
		Cancelled:    t.cancelled,
	}
}

// Done is closed once the transfer reached a terminal state.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Err returns the terminal error: nil after success, ErrCancelled after
// cancellation, an *ExhaustedError otherwise. It is nil until Done is
// closed.
func (t *Transfer) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Transfer) run() {
	defer close(t.done)
	if t.opts.Client == nil {
		defer t.client.CloseIdleConnections()
	}

	for {
		received, err := t.start()
		if err == nil {
			t.complete()
			return
		}

		delay, retry := t.failed(err, received == 0)
		if !retry {
			t.fatal()
			return
		}

		snap := t.Snapshot()
		t.obs.retry(RetryInfo{
			Attempt:      snap.Attempt + 1,
			AttemptTotal: snap.AttemptTotal,
			Delay:        delay,
			Err:          err,
		})
		t.log.WithFields(logrus.Fields{
			"delay":    delay,
			"position": snap.Position,
		}).Warnf("Scheduling retry in %s", delay)

		if err := t.wait(delay); err != nil {
			// Only Cancel ends a wait early; failed routes it to fatal.
			t.failed(err, true)
			t.fatal()
			return
		}
	}
}

// start begins one attempt: the pre hook if any, then the request.
// It returns the number of body bytes received and nil on completion.
func (t *Transfer) start() (int64, error) {
	t.mu.Lock()
	t.attempt++
	t.attemptTotal++
	t.lastErr = nil
	attempt, total := t.attempt, t.attemptTotal
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"attempt":       attempt,
		"attempt_total": total,
	}).Debug("Starting transfer")

	if t.opts.Pre != nil {
		if err := t.runPre(); err != nil {
			return 0, err
		}
	}
	return t.get()
}

func (t *Transfer) runPre() error {
	t.setState(StatePreHook)
	t.log.Debug("Calling pre function")

	ctx, _ := t.begin(pendingHook)
	target, err := t.opts.Pre(ctx, t.Snapshot())
	t.end()

	if t.isCancelled() {
		return ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPre, err)
	}
	if target.URL == "" {
		return fmt.Errorf("%w: pre function did not set url", ErrPre)
	}

	t.mu.Lock()
	t.url = target.URL
	t.mu.Unlock()
	t.header = target.Header

	t.log.WithField("url", target.URL).Debug("Completed pre function")
	return nil
}

// get issues one HTTP attempt starting at the current position.
func (t *Transfer) get() (int64, error) {
	t.setState(StateRequesting)

	t.mu.Lock()
	url := t.url
	pos, length := t.window.Position, t.window.Length
	t.mu.Unlock()

	// Nothing left to fetch, e.g. an empty window.
	if length >= 0 && pos >= length {
		return 0, nil
	}

	ctx, abort := t.begin(pendingRequest)
	defer t.end()

	ranged := pos > 0 || length >= 0
	req, err := t.newRequest(ctx, url, pos, length, ranged)
	if err != nil {
		return 0, err
	}

	if !t.requestFired {
		t.requestFired = true
		t.obs.request(req)
	}

	log := t.log.WithFields(logrus.Fields{"url": url, "position": pos})
	log.WithField("range", req.Header.Get("Range")).Debug("Sending HTTP request")

	start := time.Now()
	res, err := t.client.Do(req)
	if err != nil {
		err = causeOf(ctx, err)
		log.WithError(err).Debug("Request error")
		return 0, err
	}
	defer res.Body.Close()

	log.WithFields(logrus.Fields{
		"status":  res.StatusCode,
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("Received HTTP response")

	t.mu.Lock()
	first := !t.responded
	exp := expectation{
		position:      pos,
		length:        length,
		ranged:        ranged,
		first:         first,
		fingerprint:   t.fingerprint,
		ignoreLastMod: t.opts.IgnoreLastMod,
	}
	t.mu.Unlock()

	v, err := validateResponse(res, exp)
	if err != nil {
		abort(err)
		log.WithError(err).Debug("Response error")
		return 0, err
	}

	t.mu.Lock()
	t.window.Length = v.length
	t.fingerprint = v.fingerprint
	t.responded = true
	total := t.window.Total()
	t.mu.Unlock()

	if first {
		t.obs.response(res)
		t.obs.progress(Progress{Transferred: 0, Total: total})
	}

	t.setState(StateStreaming)
	return t.pump(ctx, abort, res.Body)
}

func (t *Transfer) newRequest(ctx context.Context, url string, pos, length int64, ranged bool) (*http.Request, error) {
	req, err := gulphttp.NewRequest(ctx, http.MethodGet, url, t.opts.Header)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.header {
		req.Header[k] = append([]string(nil), vs...)
	}

	if ranged {
		end := int64(-1)
		if length >= 0 {
			end = length - 1
		}
		gulphttp.SetRange(req, pos, end)
	}
	// Compression would break byte accounting across ranges. Set even
	// unranged so a caller's client cannot negotiate gzip transparently.
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

// pump feeds the body through the window into the output. It returns
// nil once the window is complete, or when the length is unknown and the
// body ended cleanly.
func (t *Transfer) pump(ctx context.Context, abort context.CancelCauseFunc, body io.Reader) (int64, error) {
	var (
		received int64
		idle     *time.Timer
	)
	idleTimeout := t.opts.Timeouts.Idle
	if idleTimeout > 0 {
		idle = time.AfterFunc(idleTimeout, func() {
			t.log.Infof("Connection idle for %s - aborting", idleTimeout)
			abort(ErrIdle)
		})
		defer idle.Stop()
	}

	buf := make([]byte, t.opts.BufferSize)
	for {
		if t.windowComplete() {
			abort(errWindowDone)
			return received, nil
		}

		n, rerr := body.Read(buf)

		// Bytes read after an abort decision never reach the output.
		if n > 0 && ctx.Err() == nil {
			received += int64(n)
			if idle != nil {
				idle.Reset(idleTimeout)
			}

			t.mu.Lock()
			out, done := t.window.Clip(buf[:n])
			p := Progress{Transferred: t.window.Transferred(), Total: t.window.Total()}
			t.mu.Unlock()

			if len(out) > 0 {
				// The consumer may hold us here; that is not idleness.
				if idle != nil {
					idle.Stop()
				}
				if _, werr := t.pw.Write(out); werr != nil {
					abort(werr)
					return received, werr
				}
				if idle != nil {
					idle.Reset(idleTimeout)
				}
			}
			t.obs.progress(p)

			if done {
				t.log.Debug("Window complete - aborting request")
				abort(errWindowDone)
				return received, nil
			}
		}

		if rerr == nil {
			continue
		}
		if ctx.Err() != nil {
			return received, causeOf(ctx, rerr)
		}
		if !errors.Is(rerr, io.EOF) {
			return received, rerr
		}

		t.mu.Lock()
		pos, length := t.window.Position, t.window.Length
		t.mu.Unlock()
		if length < 0 || pos >= length {
			return received, nil
		}
		return received, inconsistent("transfer stopped before end - at %d not %d", pos, length)
	}
}

// failed is the single place retry-or-stop is decided. It returns the
// delay before the next attempt and whether there should be one.
func (t *Transfer) failed(err error, empty bool) (time.Duration, bool) {
	t.mu.Lock()
	t.lastErr = err
	if t.cancelled {
		t.mu.Unlock()
		return 0, false
	}
	if !empty {
		t.attempt = 0
	}
	attempt, total := t.attempt, t.attemptTotal
	t.mu.Unlock()

	t.log.WithError(err).WithFields(logrus.Fields{
		"attempt":       attempt,
		"attempt_total": total,
		"empty":         empty,
	}).Debug("Transfer failed")

	if a := t.opts.Attempts; a > 0 && attempt >= a {
		return 0, false
	}
	if a := t.opts.AttemptsTotal; a > 0 && total >= a {
		return 0, false
	}
	return t.opts.Backoff.Delay(attempt+1, t.Snapshot())
}

func (t *Transfer) wait(delay time.Duration) error {
	t.setState(StateRetrying)

	ctx, _ := t.begin(pendingWait)
	defer t.end()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (t *Transfer) complete() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.fatal()
		return
	}
	// Completed under the same lock Cancel checks, so a late Cancel is a no-op.
	t.transition(StateCompleted)
	t.mu.Unlock()
	t.pw.Close()

	snap := t.Snapshot()
	t.log.WithFields(logrus.Fields{
		"transferred":   snap.Position - snap.Offset,
		"attempt_total": snap.AttemptTotal,
	}).Info("Finished")
}

// fatal ends the output with the single terminal error.
func (t *Transfer) fatal() {
	t.mu.Lock()
	if t.cancelled {
		t.err = ErrCancelled
		t.transition(StateCancelled)
	} else {
		t.err = &ExhaustedError{Attempt: t.attempt, AttemptTotal: t.attemptTotal, Last: t.lastErr}
		t.transition(StateFatal)
	}
	err := t.err
	t.mu.Unlock()

	t.pw.CloseWithError(err)
	if errors.Is(err, ErrCancelled) {
		t.log.Info("Transfer cancelled")
		return
	}
	t.log.WithError(err).Error("Transfer failed permanently")
}

// begin registers the operation about to run as the pending one. The
// returned context is already cancelled if the transfer was cancelled.
func (t *Transfer) begin(kind pendingKind) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(t.base)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		panic(fmt.Sprintf("resume: %s started while %s pending", kind, t.pending.kind))
	}
	t.pending = &pending{kind: kind, cancel: cancel, since: time.Now()}
	if t.cancelled {
		cancel(ErrCancelled)
	}
	return ctx, cancel
}

func (t *Transfer) end() {
	t.mu.Lock()
	p := t.pending
	t.pending = nil
	t.mu.Unlock()
	if p != nil {
		p.cancel(nil)
	}
}

func (t *Transfer) setState(to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transition(to)
}

// transition must be called with mu held.
func (t *Transfer) transition(to State) {
	if t.state != to && !canTransition(t.state, to) {
		panic(fmt.Sprintf("resume: illegal transition %s -> %s", t.state, to))
	}
	t.state = to
}

func (t *Transfer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Transfer) windowComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Complete()
}

// causeOf prefers the reason an operation was aborted over the error the
// aborted call happened to return.
func causeOf(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if c := context.Cause(ctx); c != nil {
			return c
		}
	}
	return err
}
