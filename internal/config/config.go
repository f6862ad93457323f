package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/gulp/internal/progress"
	"github.com/ligustah/gulp/pkg/resume"
)

// Config defines configuration for the gulp CLI.
type Config struct {
	Output        string
	Bucket        string
	Prefix        string
	Workers       int
	BufferSize    int64
	Progress      bool
	Force         bool
	NeedLength    bool
	IgnoreLastMod bool
	Decompress    string
	MetricsListen string
	Header        http.Header
	Timeout       TimeoutConfig
	Retry         RetryConfig
	Log           LogConfig
}

// TimeoutConfig bounds the phases of every attempt.
type TimeoutConfig struct {
	Connect        time.Duration
	TLSHandshake   time.Duration
	ResponseHeader time.Duration
	Idle           time.Duration
}

// RetryConfig defines retry behavior. Zero attempts means unlimited.
type RetryConfig struct {
	Attempts      int
	AttemptsTotal int
	Backoff       time.Duration
	MaxBackoff    time.Duration
	Jitter        float64
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level string
	JSON  bool
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:    4,
		BufferSize: resume.DefaultBufferSize,
		Timeout: TimeoutConfig{
			Connect:        resume.DefaultTimeout,
			TLSHandshake:   resume.DefaultTimeout,
			ResponseHeader: resume.DefaultTimeout,
			Idle:           resume.DefaultTimeout,
		},
		Retry: RetryConfig{
			Attempts: 10,
			Backoff:  time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and
// durations. Pointers tell an explicit zero from an absent key.
type yamlConfig struct {
	Output        string            `yaml:"output"`
	Bucket        string            `yaml:"bucket"`
	Prefix        string            `yaml:"prefix"`
	Workers       int               `yaml:"workers"`
	BufferSize    string            `yaml:"buffer_size"`
	Progress      bool              `yaml:"progress"`
	Force         bool              `yaml:"force"`
	NeedLength    bool              `yaml:"need_length"`
	IgnoreLastMod bool              `yaml:"ignore_last_mod"`
	Decompress    string            `yaml:"decompress"`
	MetricsListen string            `yaml:"metrics_listen"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       yamlTimeoutConfig `yaml:"timeout"`
	Retry         yamlRetryConfig   `yaml:"retry"`
	Log           yamlLogConfig     `yaml:"log"`
}

type yamlTimeoutConfig struct {
	Connect        string `yaml:"connect"`
	TLSHandshake   string `yaml:"tls_handshake"`
	ResponseHeader string `yaml:"response_header"`
	Idle           string `yaml:"idle"`
}

type yamlRetryConfig struct {
	Attempts      *int     `yaml:"attempts"`
	AttemptsTotal *int     `yaml:"attempts_total"`
	Backoff       string   `yaml:"backoff"`
	MaxBackoff    string   `yaml:"max_backoff"`
	Jitter        *float64 `yaml:"jitter"`
}

type yamlLogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.Prefix != "" {
		cfg.Prefix = yc.Prefix
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.BufferSize != "" {
		size, err := progress.ParseBytes(yc.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse buffer_size: %w", err)
		}
		cfg.BufferSize = size
	}
	cfg.Progress = yc.Progress
	cfg.Force = yc.Force
	cfg.NeedLength = yc.NeedLength
	cfg.IgnoreLastMod = yc.IgnoreLastMod
	cfg.Decompress = yc.Decompress
	cfg.MetricsListen = yc.MetricsListen
	if len(yc.Headers) > 0 {
		cfg.Header = make(http.Header, len(yc.Headers))
		for k, v := range yc.Headers {
			cfg.Header.Set(k, v)
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout.connect", yc.Timeout.Connect, &cfg.Timeout.Connect},
		{"timeout.tls_handshake", yc.Timeout.TLSHandshake, &cfg.Timeout.TLSHandshake},
		{"timeout.response_header", yc.Timeout.ResponseHeader, &cfg.Timeout.ResponseHeader},
		{"timeout.idle", yc.Timeout.Idle, &cfg.Timeout.Idle},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	if yc.Retry.AttemptsTotal != nil {
		cfg.Retry.AttemptsTotal = *yc.Retry.AttemptsTotal
	}
	if yc.Retry.Jitter != nil {
		cfg.Retry.Jitter = *yc.Retry.Jitter
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	cfg.Log.JSON = yc.Log.JSON

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GULP_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GULP_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("GULP_BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv("GULP_PREFIX"); v != "" {
		c.Prefix = v
	}
	if v := os.Getenv("GULP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GULP_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("GULP_BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse GULP_BUFFER_SIZE: %w", err)
		}
		c.BufferSize = size
	}
	if v := os.Getenv("GULP_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("GULP_FORCE"); v != "" {
		c.Force = v == "true" || v == "1"
	}
	if v := os.Getenv("GULP_DECOMPRESS"); v != "" {
		c.Decompress = v
	}
	if v := os.Getenv("GULP_METRICS_LISTEN"); v != "" {
		c.MetricsListen = v
	}
	if v := os.Getenv("GULP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_TIMEOUT: %w", err)
		}
		c.Timeout = TimeoutConfig{Connect: d, TLSHandshake: d, ResponseHeader: d, Idle: d}
	}
	if v := os.Getenv("GULP_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_IDLE_TIMEOUT: %w", err)
		}
		c.Timeout.Idle = d
	}
	if v := os.Getenv("GULP_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GULP_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("GULP_RETRY_ATTEMPTS_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GULP_RETRY_ATTEMPTS_TOTAL: %w", err)
		}
		c.Retry.AttemptsTotal = n
	}
	if v := os.Getenv("GULP_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("GULP_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("GULP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GULP_LOG_JSON"); v != "" {
		c.Log.JSON = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Output != "" && c.Bucket != "" {
		return errors.New("config: output and bucket are mutually exclusive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.Retry.Attempts < 0 || c.Retry.AttemptsTotal < 0 {
		return errors.New("config: retry attempts must not be negative")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("config: retry backoff must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return errors.New("config: retry jitter must be in [0, 1)")
	}
	t := c.Timeout
	if t.Connect < 0 || t.TLSHandshake < 0 || t.ResponseHeader < 0 || t.Idle < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	switch strings.ToLower(c.Decompress) {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("config: unknown decompress format %q", c.Decompress)
	}
	return nil
}

// TransferOptions returns the transfer options this configuration implies.
func (c *Config) TransferOptions() []resume.Option {
	opts := []resume.Option{
		resume.WithAttempts(c.Retry.Attempts),
		resume.WithAttemptsTotal(c.Retry.AttemptsTotal),
		resume.WithNeedLength(c.NeedLength),
		resume.WithIgnoreLastMod(c.IgnoreLastMod),
		resume.WithTimeouts(resume.Timeouts{
			Connect:        c.Timeout.Connect,
			TLSHandshake:   c.Timeout.TLSHandshake,
			ResponseHeader: c.Timeout.ResponseHeader,
			Idle:           c.Timeout.Idle,
		}),
		resume.WithBackoff(resume.Exponential{
			Initial: c.Retry.Backoff,
			Max:     c.Retry.MaxBackoff,
			Jitter:  c.Retry.Jitter,
		}),
		resume.WithBufferSize(int(c.BufferSize)),
	}
	if len(c.Header) > 0 {
		opts = append(opts, resume.WithHeader(c.Header))
	}
	return opts
}
