package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ligustah/gulp/internal/config"
	"github.com/ligustah/gulp/internal/downloader"
	"github.com/ligustah/gulp/internal/metrics"
	"github.com/ligustah/gulp/internal/progress"
	"github.com/ligustah/gulp/internal/sink"
	"github.com/ligustah/gulp/pkg/resume"
)

type getFlags struct {
	output          string
	bucket          string
	prefix          string
	offset          string
	length          string
	attempts        int
	attemptsTotal   int
	needLength      bool
	ignoreLastMod   bool
	timeout         time.Duration
	idleTimeout     time.Duration
	retryBackoff    time.Duration
	retryMaxBackoff time.Duration
	workers         int
	progress        bool
	decompress      string
	force           bool
	metricsListen   string
	headers         []string
}

func newGetCmd(loadConfig func(*cobra.Command) (config.Config, error)) *cobra.Command {
	var f getFlags

	cmd := &cobra.Command{
		Use:   "get [flags] URL...",
		Short: "Download one or more URLs, resuming after interruptions",
		Example: `  gulp get -o ubuntu.iso https://example.com/ubuntu.iso
  gulp get -o downloads/ https://example.com/a.bin https://example.com/b.bin
  gulp get --bucket s3://my-bucket --prefix mirror/ https://example.com/a.bin
  gulp get -o - --decompress gzip https://example.com/dump.sql.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("at least one URL is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}
			return runGet(cmd, cfg, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "Output file or directory (- for stdout)")
	fl.StringVar(&f.bucket, "bucket", "", "Destination bucket URL (s3://, gs://, file://, mem://)")
	fl.StringVar(&f.prefix, "prefix", "", "Object key prefix in the bucket")
	fl.StringVar(&f.offset, "offset", "0", "First byte to download")
	fl.StringVar(&f.length, "length", "", "Number of bytes to download from --offset (default: to the end)")
	fl.IntVar(&f.attempts, "attempts", 0, "Consecutive attempts without progress before giving up (0 = unlimited)")
	fl.IntVar(&f.attemptsTotal, "attempts-total", 0, "Attempts over the whole transfer (0 = unlimited)")
	fl.BoolVar(&f.needLength, "need-length", false, "Require the total length from the first response")
	fl.BoolVar(&f.ignoreLastMod, "ignore-last-mod", false, "Do not treat Last-Modified changes as a source change")
	fl.DurationVar(&f.timeout, "timeout", 0, "Connect, TLS and response header timeout")
	fl.DurationVar(&f.idleTimeout, "idle-timeout", 0, "Abort an attempt after this long without body bytes")
	fl.DurationVar(&f.retryBackoff, "retry-backoff", 0, "Initial retry backoff")
	fl.DurationVar(&f.retryMaxBackoff, "retry-max-backoff", 0, "Max retry backoff (0 = uncapped)")
	fl.IntVar(&f.workers, "workers", 0, "Number of parallel transfers")
	fl.BoolVar(&f.progress, "progress", false, "Show progress output")
	fl.StringVar(&f.decompress, "decompress", "", "Decompress the body (gzip, zstd)")
	fl.BoolVar(&f.force, "force", false, "Overwrite existing files and objects")
	fl.StringVar(&f.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, "Extra request header (Name: value), repeatable")

	return cmd
}

// apply overrides cfg with the flags given on the command line.
func (f *getFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("output") {
		cfg.Output = f.output
	}
	if fl.Changed("bucket") {
		cfg.Bucket = f.bucket
	}
	if fl.Changed("prefix") {
		cfg.Prefix = f.prefix
	}
	if fl.Changed("attempts") {
		cfg.Retry.Attempts = f.attempts
	}
	if fl.Changed("attempts-total") {
		cfg.Retry.AttemptsTotal = f.attemptsTotal
	}
	if fl.Changed("need-length") {
		cfg.NeedLength = f.needLength
	}
	if fl.Changed("ignore-last-mod") {
		cfg.IgnoreLastMod = f.ignoreLastMod
	}
	if fl.Changed("timeout") {
		cfg.Timeout.Connect = f.timeout
		cfg.Timeout.TLSHandshake = f.timeout
		cfg.Timeout.ResponseHeader = f.timeout
	}
	if fl.Changed("idle-timeout") {
		cfg.Timeout.Idle = f.idleTimeout
	}
	if fl.Changed("retry-backoff") {
		cfg.Retry.Backoff = f.retryBackoff
	}
	if fl.Changed("retry-max-backoff") {
		cfg.Retry.MaxBackoff = f.retryMaxBackoff
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("progress") {
		cfg.Progress = f.progress
	}
	if fl.Changed("decompress") {
		cfg.Decompress = f.decompress
	}
	if fl.Changed("force") {
		cfg.Force = f.force
	}
	if fl.Changed("metrics-listen") {
		cfg.MetricsListen = f.metricsListen
	}
	if len(f.headers) > 0 {
		h, err := parseHeaders(f.headers)
		if err != nil {
			return err
		}
		if cfg.Header == nil {
			cfg.Header = make(http.Header)
		}
		for k, vs := range h {
			cfg.Header[k] = vs
		}
	}
	return nil
}

// window returns the transfer options for --offset and --length.
func (f *getFlags) window() ([]resume.Option, error) {
	offset, err := progress.ParseBytes(f.offset)
	if err != nil {
		return nil, usagef("invalid --offset: %v", err)
	}
	opts := []resume.Option{resume.WithOffset(offset)}
	if f.length != "" {
		length, err := progress.ParseBytes(f.length)
		if err != nil {
			return nil, usagef("invalid --length: %v", err)
		}
		opts = append(opts, resume.WithLength(offset+length))
	}
	return opts, nil
}

func runGet(cmd *cobra.Command, cfg config.Config, f getFlags, urls []string) error {
	ctx := cmd.Context()
	log := logrus.StandardLogger()

	window, err := f.window()
	if err != nil {
		return err
	}
	topts := append(cfg.TransferOptions(), window...)
	if transform := decompressor(cfg.Decompress); transform != nil {
		topts = append(topts, resume.WithTransform(transform))
	}

	s, closeSink, err := openSink(ctx, cmd, cfg, len(urls))
	if err != nil {
		return err
	}
	defer closeSink()

	workers := min(cfg.Workers, len(urls))
	if _, ok := s.(sink.Writer); ok {
		workers = 1
	}

	var m *metrics.Metrics
	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m = metrics.NewMetrics(reg)
		stop, err := serveMetrics(cfg.MetricsListen, reg, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalFiles: len(urls),
			Workers:    workers,
			Output:     cmd.ErrOrStderr(),
		})
		reporter.Start()
		defer reporter.Stop()
	}

	jobs := make([]downloader.Job, len(urls))
	for i, u := range urls {
		jobs[i] = downloader.Job{URL: u}
	}

	err = downloader.Run(ctx, s, jobs, downloader.Options{
		Workers:  workers,
		Transfer: topts,
		Progress: reporter,
		Metrics:  m,
		Logger:   log,
	})
	var cbErr *downloader.CircuitBreakerError
	if errors.As(err, &cbErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[gulp] Stopped after %d consecutive failures\n", cbErr.ConsecutiveFailures)
	}
	return err
}

// openSink picks the destination from the configuration.
func openSink(ctx context.Context, cmd *cobra.Command, cfg config.Config, n int) (sink.Sink, func(), error) {
	noop := func() {}

	if cfg.Bucket != "" {
		b, err := sink.OpenBucket(ctx, cfg.Bucket, cfg.Prefix, cfg.Force)
		if err != nil {
			return nil, noop, err
		}
		return b, func() { b.Close() }, nil
	}

	switch cfg.Output {
	case "-":
		return sink.Writer{W: cmd.OutOrStdout()}, noop, nil
	case "":
		return sink.Dir{Path: ".", Force: cfg.Force}, noop, nil
	}

	if fi, err := os.Stat(cfg.Output); err == nil && fi.IsDir() {
		return sink.Dir{Path: cfg.Output, Force: cfg.Force}, noop, nil
	}
	if n > 1 || os.IsPathSeparator(cfg.Output[len(cfg.Output)-1]) {
		if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
			return nil, noop, fmt.Errorf("%w: %w", sink.ErrStorage, err)
		}
		return sink.Dir{Path: cfg.Output, Force: cfg.Force}, noop, nil
	}
	return sink.File{Path: cfg.Output, Force: cfg.Force}, noop, nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, usagef("metrics listener: %v", err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
