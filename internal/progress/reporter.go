package progress

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/gulp/pkg/resume"
)

// Options configures the progress reporter.
type Options struct {
	// TotalFiles is the number of transfers in the batch.
	TotalFiles int

	// Workers is the number of parallel transfers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress for a batch of transfers.
type Reporter struct {
	opts Options

	receivedBytes  atomic.Int64
	totalBytes     atomic.Int64 // sum of known transfer sizes
	completedFiles atomic.Int32
	failedFiles    atomic.Int32
	inProgress     atomic.Int32
	retries        atomic.Int32

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	started    bool
	stopped    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[gulp] Files: %d | Workers: %d\n", r.opts.TotalFiles, r.opts.Workers)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// FileStarted marks a transfer as in progress.
func (r *Reporter) FileStarted() {
	r.inProgress.Add(1)
}

// FileCompleted marks a transfer as completed.
func (r *Reporter) FileCompleted() {
	r.completedFiles.Add(1)
	r.inProgress.Add(-1)
}

// FileFailed marks a transfer as failed.
func (r *Reporter) FileFailed() {
	r.failedFiles.Add(1)
	r.inProgress.Add(-1)
}

// Observer returns an observer feeding one transfer's events into r.
// Use a fresh observer per transfer.
func (r *Reporter) Observer() resume.Observer {
	return &transferObserver{r: r}
}

type transferObserver struct {
	r         *Reporter
	last      int64
	sizeKnown bool
}

func (o *transferObserver) OnRequest(*http.Request)   {}
func (o *transferObserver) OnResponse(*http.Response) {}

func (o *transferObserver) OnProgress(p resume.Progress) {
	if !o.sizeKnown && p.Total >= 0 {
		o.sizeKnown = true
		o.r.totalBytes.Add(p.Total)
	}
	if d := p.Transferred - o.last; d > 0 {
		o.r.receivedBytes.Add(d)
		o.last = p.Transferred
	}
}

func (o *transferObserver) OnRetry(resume.RetryInfo) {
	o.r.retries.Add(1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	received := r.receivedBytes.Load()
	total := r.totalBytes.Load()

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(received-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = received
	r.mu.Unlock()

	var percent float64
	eta := "unknown"
	if total > 0 {
		percent = float64(received) / float64(total) * 100
		if speed > 0 {
			remaining := float64(total - received)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	completed := int(r.completedFiles.Load())
	failed := int(r.failedFiles.Load())
	inProgress := int(r.inProgress.Load())
	pending := max(r.opts.TotalFiles-completed-failed-inProgress, 0)

	fmt.Fprintf(r.opts.Output, "\r[gulp] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		formatBytes(received),
		formatBytes(total),
		formatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[gulp] Files: %d completed | %d in-progress | %d pending | %d failed | %d retries    \033[A",
		completed,
		inProgress,
		pending,
		failed,
		r.retries.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	received := r.receivedBytes.Load()
	r.mu.Lock()
	duration := time.Since(r.startTime)
	r.mu.Unlock()
	avgSpeed := float64(received) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[gulp] Received: %s | Speed: %s/s | Done    \n",
		formatBytes(received),
		formatBytes(int64(avgSpeed)),
	)
	fmt.Fprintf(r.opts.Output, "[gulp] Files: %d completed | %d failed | %d retries    \n",
		r.completedFiles.Load(),
		r.failedFiles.Load(),
		r.retries.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[gulp] Total time: %s\n", formatDuration(duration))
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string. SI suffixes ("256MB")
// are powers of 1000, IEC suffixes ("256MiB") powers of 1024.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if n > 1<<63-1 {
		return 0, fmt.Errorf("byte string out of range: %s", s)
	}
	return int64(n), nil
}
