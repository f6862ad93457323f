package resume

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout applies to every transport phase unless overridden.
const DefaultTimeout = 5 * time.Second

// DefaultBufferSize is the size of body reads fed to the window.
const DefaultBufferSize = 32 * 1024

// Timeouts bounds the phases of one attempt. Zero disables a phase.
type Timeouts struct {
	Connect        time.Duration // TCP dial
	TLSHandshake   time.Duration
	ResponseHeader time.Duration // request written → headers received
	Idle           time.Duration // no body bytes received
}

// Target is what a pre hook resolves: the URL of the next attempt and
// optional extra request headers.
type Target struct {
	URL    string
	Header http.Header
}

// PreFunc runs before every attempt. ctx is cancelled when the transfer
// is cancelled; implementations should return promptly when it is.
type PreFunc func(ctx context.Context, s Snapshot) (Target, error)

// TransformFunc wraps the transfer output, e.g. to decompress it. It is
// applied on the first Read of the Stream.
type TransformFunc func(r io.Reader) (io.Reader, error)

// Options configures a transfer. Use the With* functions with Fetch.
type Options struct {
	URL           string
	Offset        int64
	Length        int64 // absolute exclusive end, -1 = until resource end
	Attempts      int   // consecutive failed attempts allowed, 0 = unlimited
	AttemptsTotal int   // attempts allowed overall, 0 = unlimited
	NeedLength    bool
	IgnoreLastMod bool
	Timeouts      Timeouts
	Backoff       Backoff
	Pre           PreFunc
	Transform     TransformFunc
	Header        http.Header
	Client        *http.Client
	Logger        logrus.FieldLogger
	Observers     []Observer
	BufferSize    int
}

// Option is a functional option for Fetch.
type Option func(*Options)

// DefaultOptions returns the options Fetch starts from.
func DefaultOptions() Options {
	return Options{
		Length:   -1,
		Attempts: 10,
		Timeouts: Timeouts{
			Connect:        DefaultTimeout,
			TLSHandshake:   DefaultTimeout,
			ResponseHeader: DefaultTimeout,
			Idle:           DefaultTimeout,
		},
		Backoff:    DefaultBackoff,
		BufferSize: DefaultBufferSize,
	}
}

// WithOffset sets the first byte (inclusive) to deliver.
func WithOffset(offset int64) Option {
	return func(o *Options) {
		o.Offset = offset
	}
}

// WithLength sets the absolute end offset (exclusive) of the window.
// It is an offset into the resource, not a byte count.
func WithLength(end int64) Option {
	return func(o *Options) {
		o.Length = end
	}
}

// WithAttempts caps consecutive attempts that make no progress.
// Zero means unlimited. Default: 10.
func WithAttempts(n int) Option {
	return func(o *Options) {
		o.Attempts = n
	}
}

// WithAttemptsTotal caps attempts over the lifetime of the transfer.
// Zero means unlimited. Default: 0.
func WithAttemptsTotal(n int) Option {
	return func(o *Options) {
		o.AttemptsTotal = n
	}
}

// WithNeedLength requests an uncompressed encoding on the first request
// too, so the server reports the true content length.
func WithNeedLength(need bool) Option {
	return func(o *Options) {
		o.NeedLength = need
	}
}

// WithIgnoreLastMod disables the Last-Modified comparison between
// attempts. ETag changes are still detected.
func WithIgnoreLastMod(ignore bool) Option {
	return func(o *Options) {
		o.IgnoreLastMod = ignore
	}
}

// WithTimeout sets every timeout phase, including Idle, to d.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeouts = Timeouts{Connect: d, TLSHandshake: d, ResponseHeader: d, Idle: d}
	}
}

// WithTimeouts sets per-phase timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Options) {
		o.Timeouts = t
	}
}

// WithBackoff replaces the retry delay policy.
func WithBackoff(b Backoff) Option {
	return func(o *Options) {
		o.Backoff = b
	}
}

// WithPre sets a hook that resolves the URL before every attempt.
func WithPre(fn PreFunc) Option {
	return func(o *Options) {
		o.Pre = fn
	}
}

// WithTransform post-processes the output stream.
func WithTransform(fn TransformFunc) Option {
	return func(o *Options) {
		o.Transform = fn
	}
}

// WithHeader adds headers to every request.
func WithHeader(h http.Header) Option {
	return func(o *Options) {
		o.Header = h
	}
}

// WithClient sets the HTTP client. When unset a client honouring
// Timeouts is built for the transfer. Timeouts.Idle applies either way.
func WithClient(c *http.Client) Option {
	return func(o *Options) {
		o.Client = c
	}
}

// WithLogger sets the diagnostic logger. Default: discard.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver registers an observer. May be given several times.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observers = append(o.Observers, obs)
	}
}

// WithBufferSize sets the size of body reads.
func WithBufferSize(n int) Option {
	return func(o *Options) {
		o.BufferSize = n
	}
}

// validate reports configuration errors before any I/O happens.
func (o *Options) validate() error {
	if o.URL == "" && o.Pre == nil {
		return invalidOptions("url or pre function must be provided")
	}
	if o.URL != "" {
		if err := checkURL(o.URL); err != nil {
			return err
		}
	}
	if o.Offset < 0 {
		return invalidOptions("offset must not be negative: %d", o.Offset)
	}
	if o.Length < -1 {
		return invalidOptions("length must not be negative: %d", o.Length)
	}
	if o.Length >= 0 && o.Length < o.Offset {
		return invalidOptions("length %d is before offset %d", o.Length, o.Offset)
	}
	if o.Attempts < 0 {
		return invalidOptions("attempts must not be negative: %d", o.Attempts)
	}
	if o.AttemptsTotal < 0 {
		return invalidOptions("attempts total must not be negative: %d", o.AttemptsTotal)
	}
	t := o.Timeouts
	if t.Connect < 0 || t.TLSHandshake < 0 || t.ResponseHeader < 0 || t.Idle < 0 {
		return invalidOptions("timeouts must not be negative")
	}
	if o.BufferSize <= 0 {
		return invalidOptions("buffer size must be positive: %d", o.BufferSize)
	}
	if o.Backoff == nil {
		return invalidOptions("backoff must not be nil")
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidOptions("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidOptions("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return invalidOptions("url %q has no host", raw)
	}
	return nil
}
