package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/metrics"
	"github.com/ligustah/gulp/internal/progress"
	"github.com/ligustah/gulp/internal/sink"
	"github.com/ligustah/gulp/pkg/resume"
)

// Options configures the downloader.
type Options struct {
	// Workers is the number of transfers running in parallel.
	Workers int

	// Transfer is applied to every transfer of the batch.
	Transfer []resume.Option

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// MaxConsecutiveFailures is the number of consecutive failed transfers
	// before the circuit breaker trips and stops the batch.
	// Negative disables the breaker (default: 10).
	MaxConsecutiveFailures int
}

// Job names one resource of a batch.
type Job struct {
	URL string

	// Name is handed to the sink. Derived from URL when empty.
	Name string
}

// FailedJob records a transfer that failed.
type FailedJob struct {
	Job   Job
	Error error
}

// CircuitBreakerError is returned when too many consecutive transfers
// fail. Transfers still queued are not started.
//
// Use errors.As to extract this error and inspect FailedJobs for details.
type CircuitBreakerError struct {
	ConsecutiveFailures int
	FailedJobs          []FailedJob
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %d consecutive failures", e.ConsecutiveFailures)
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *CircuitBreakerError) Unwrap() []error {
	return unwrapJobs(e.FailedJobs)
}

// BatchError is returned when some transfers failed without tripping the
// circuit breaker.
type BatchError struct {
	Total      int
	FailedJobs []FailedJob
}

func (e *BatchError) Error() string {
	if len(e.FailedJobs) == 1 {
		return fmt.Sprintf("%s: %v", e.FailedJobs[0].Job.URL, e.FailedJobs[0].Error)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d transfers failed", len(e.FailedJobs), e.Total)
	for _, f := range e.FailedJobs {
		fmt.Fprintf(&b, "\n  %s: %v", f.Job.URL, f.Error)
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return unwrapJobs(e.FailedJobs)
}

func unwrapJobs(jobs []FailedJob) []error {
	errs := make([]error, len(jobs))
	for i, f := range jobs {
		errs[i] = f.Error
	}
	return errs
}

// Info fetches metadata about a remote resource with a HEAD request.
func Info(ctx context.Context, url string, opts gulphttp.Options) (*gulphttp.FileInfo, error) {
	c := gulphttp.NewClient(opts)
	defer c.CloseIdleConnections()
	return c.Head(ctx, url)
}

// Run downloads every job into s. Each job is an independent resumable
// transfer. Run returns nil when all transfers completed, a
// *CircuitBreakerError when the breaker tripped, an error wrapping
// resume.ErrCancelled when ctx ended first, and a *BatchError otherwise.
func Run(ctx context.Context, s sink.Sink, jobs []Job, opts Options) error {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxConsecutiveFailures == 0 {
		opts.MaxConsecutiveFailures = 10
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	// Circuit breaker state
	var (
		cbMu                  sync.Mutex
		consecutiveFailures   int
		failedJobs            []FailedJob
		circuitBreakerTripped bool
	)

	cbCtx, cbCancel := context.WithCancel(ctx)
	defer cbCancel()

	queue := make(chan Job, opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				err := download(cbCtx, s, job, opts)

				cbMu.Lock()
				switch {
				case err == nil:
					consecutiveFailures = 0
				case cbCtx.Err() != nil && isCancel(err):
					// Stopped by the caller or the breaker, not a failure
					// of its own.
				default:
					consecutiveFailures++
					failedJobs = append(failedJobs, FailedJob{Job: job, Error: err})
					if opts.MaxConsecutiveFailures > 0 && consecutiveFailures >= opts.MaxConsecutiveFailures {
						circuitBreakerTripped = true
						cbCancel()
					}
				}
				tripped := circuitBreakerTripped
				cbMu.Unlock()

				if tripped {
					return
				}
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-cbCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	cbMu.Lock()
	defer cbMu.Unlock()

	if circuitBreakerTripped {
		return &CircuitBreakerError{
			ConsecutiveFailures: consecutiveFailures,
			FailedJobs:          failedJobs,
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", resume.ErrCancelled, context.Cause(ctx))
	}
	if len(failedJobs) > 0 {
		return &BatchError{Total: len(jobs), FailedJobs: failedJobs}
	}
	return nil
}

// download runs one transfer into s.
func download(ctx context.Context, s sink.Sink, job Job, opts Options) error {
	name := job.Name
	if name == "" {
		name = sink.NameFromURL(job.URL)
	}
	log := opts.Logger.WithFields(logrus.Fields{"url": job.URL, "name": name})

	if opts.Progress != nil {
		opts.Progress.FileStarted()
	}
	opts.Metrics.TransferStarted()
	start := time.Now()

	err := func() error {
		topts := append([]resume.Option{resume.WithLogger(log)}, opts.Transfer...)
		topts = append(topts, resume.WithObserver(opts.Metrics.Observer()))
		if opts.Progress != nil {
			topts = append(topts, resume.WithObserver(opts.Progress.Observer()))
		}

		stream, err := resume.Fetch(ctx, job.URL, topts...)
		if err != nil {
			return err
		}
		return s.Write(ctx, name, stream)
	}()

	opts.Metrics.TransferFinished(err, time.Since(start))
	if opts.Progress != nil {
		if err != nil {
			opts.Progress.FileFailed()
		} else {
			opts.Progress.FileCompleted()
		}
	}

	if err != nil {
		log.WithError(err).Warn("Download failed")
		return err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Download complete")
	return nil
}

func isCancel(err error) bool {
	return errors.Is(err, resume.ErrCancelled) || errors.Is(err, context.Canceled)
}
