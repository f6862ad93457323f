package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ligustah/gulp/internal/config"
	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/sink"
	"github.com/ligustah/gulp/pkg/resume"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitRetriesExhausted = 4
	ExitStorageError     = 5
	ExitSourceChanged    = 6
	ExitCancelled        = 130
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[gulp] Received interrupt, shutting down...")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, resume.ErrInconsistent) {
			fmt.Fprintln(stderr, "Source changed during the transfer")
		}
		if errors.Is(err, sink.ErrExists) {
			fmt.Fprintln(stderr, "Use --force to overwrite")
		}
	}
	return exitCode(err)
}

// usageError marks errors caused by invalid arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var (
		ue usageError
		st *resume.StatusError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ue), errors.Is(err, resume.ErrInvalidOptions):
		return ExitInvalidArgs
	case errors.Is(err, resume.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, resume.ErrInconsistent):
		return ExitSourceChanged
	case errors.Is(err, sink.ErrExists), errors.Is(err, sink.ErrStorage):
		return ExitStorageError
	case errors.As(err, &st) && st.Code >= 400 && st.Code < 500,
		errors.Is(err, gulphttp.ErrNotFound),
		errors.Is(err, gulphttp.ErrForbidden),
		errors.Is(err, gulphttp.ErrUnauthorized):
		return ExitSourceNotAccess
	case errors.Is(err, resume.ErrExhausted):
		return ExitRetriesExhausted
	default:
		return ExitGeneralError
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		logJSON    bool
	)

	root := &cobra.Command{
		Use:               "gulp",
		Short:             "Resumable, integrity-checked HTTP downloads",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	// loadConfig layers defaults, the config file, GULP_* variables and
	// the global flags, in that order.
	loadConfig := func(cmd *cobra.Command) (config.Config, error) {
		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.LoadFromFile(configPath); err != nil {
				return cfg, usageError{err}
			}
		}
		if err := cfg.LoadFromEnv(); err != nil {
			return cfg, usageError{err}
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-json") {
			cfg.Log.JSON = logJSON
		}
		if err := setupLogging(cmd.ErrOrStderr(), cfg.Log); err != nil {
			return cfg, usageError{err}
		}
		return cfg, nil
	}

	root.AddCommand(newGetCmd(loadConfig), newInfoCmd(loadConfig))
	return root
}

func setupLogging(w io.Writer, cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", cfg.Level)
	}
	logrus.SetOutput(w)
	logrus.SetLevel(level)
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
