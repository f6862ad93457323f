package config

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/gulp/internal/testutils"
	"github.com/ligustah/gulp/pkg/resume"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Workers)
	}
	if cfg.BufferSize != 32*1024 {
		t.Errorf("expected default buffer size 32KiB, got %d", cfg.BufferSize)
	}
	if cfg.Retry.Attempts != 10 {
		t.Errorf("expected default retry attempts 10, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != time.Second {
		t.Errorf("expected default retry backoff 1s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Timeout.Idle != 5*time.Second {
		t.Errorf("expected default idle timeout 5s, got %v", cfg.Timeout.Idle)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
output: downloads
workers: 8
buffer_size: 64KiB
progress: true
need_length: true
decompress: zstd
headers:
  Authorization: Bearer abc
timeout:
  connect: 2s
  idle: 30s
retry:
  attempts: 0
  attempts_total: 50
  backoff: 2s
  max_backoff: 60s
  jitter: 0.2
log:
  level: debug
  json: true
`
	// Create temp file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Output != "downloads" {
		t.Errorf("expected output downloads, got %s", cfg.Output)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Workers)
	}
	if cfg.BufferSize != 64*1024 {
		t.Errorf("expected buffer size 64KiB, got %d", cfg.BufferSize)
	}
	if !cfg.Progress || !cfg.NeedLength {
		t.Error("expected progress and need_length true")
	}
	if cfg.Decompress != "zstd" {
		t.Errorf("expected decompress zstd, got %s", cfg.Decompress)
	}
	if got := cfg.Header.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("expected Authorization header, got %q", got)
	}
	if cfg.Timeout.Connect != 2*time.Second {
		t.Errorf("expected connect timeout 2s, got %v", cfg.Timeout.Connect)
	}
	if cfg.Timeout.ResponseHeader != 5*time.Second {
		t.Errorf("expected response header timeout to keep default 5s, got %v", cfg.Timeout.ResponseHeader)
	}
	if cfg.Timeout.Idle != 30*time.Second {
		t.Errorf("expected idle timeout 30s, got %v", cfg.Timeout.Idle)
	}
	// An explicit zero means unlimited and must not fall back to the default.
	if cfg.Retry.Attempts != 0 {
		t.Errorf("expected retry attempts 0, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.AttemptsTotal != 50 {
		t.Errorf("expected retry attempts total 50, got %d", cfg.Retry.AttemptsTotal)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("expected retry max backoff 60s, got %v", cfg.Retry.MaxBackoff)
	}
	if cfg.Retry.Jitter != 0.2 {
		t.Errorf("expected retry jitter 0.2, got %v", cfg.Retry.Jitter)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("expected debug json logging, got %+v", cfg.Log)
	}
}

func TestLoadFromYAMLKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("workers: 2\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Retry.Attempts != 10 {
		t.Errorf("expected default retry attempts 10, got %d", cfg.Retry.Attempts)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadFromYAMLBadDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("timeout:\n  idle: soon\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Set env vars
	t.Setenv("GULP_WORKERS", "16")
	t.Setenv("GULP_BUFFER_SIZE", "1MiB")
	t.Setenv("GULP_PROGRESS", "true")
	t.Setenv("GULP_TIMEOUT", "10s")
	t.Setenv("GULP_IDLE_TIMEOUT", "1m")
	t.Setenv("GULP_RETRY_ATTEMPTS", "3")
	t.Setenv("GULP_RETRY_BACKOFF", "500ms")
	t.Setenv("GULP_RETRY_MAX_BACKOFF", "10s")
	t.Setenv("GULP_LOG_LEVEL", "warn")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Workers != 16 {
		t.Errorf("expected workers 16, got %d", cfg.Workers)
	}
	if cfg.BufferSize != 1024*1024 {
		t.Errorf("expected buffer size 1MiB, got %d", cfg.BufferSize)
	}
	if !cfg.Progress {
		t.Error("expected progress true")
	}
	if cfg.Timeout.Connect != 10*time.Second {
		t.Errorf("expected connect timeout 10s, got %v", cfg.Timeout.Connect)
	}
	if cfg.Timeout.Idle != time.Minute {
		t.Errorf("expected idle timeout 1m, got %v", cfg.Timeout.Idle)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 10*time.Second {
		t.Errorf("expected retry max backoff 10s, got %v", cfg.Retry.MaxBackoff)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("GULP_WORKERS", "many")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for invalid GULP_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"output and bucket", func(c *Config) { c.Output = "out"; c.Bucket = "mem://" }, true},
		{"invalid workers", func(c *Config) { c.Workers = 0 }, true},
		{"invalid buffer size", func(c *Config) { c.BufferSize = 0 }, true},
		{"negative attempts", func(c *Config) { c.Retry.Attempts = -1 }, true},
		{"negative backoff", func(c *Config) { c.Retry.Backoff = -time.Second }, true},
		{"jitter too large", func(c *Config) { c.Retry.Jitter = 1 }, true},
		{"negative timeout", func(c *Config) { c.Timeout.Idle = -time.Second }, true},
		{"unknown decompress", func(c *Config) { c.Decompress = "brotli" }, true},
		{"gzip decompress", func(c *Config) { c.Decompress = "gzip" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransferOptions(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{Status: http.StatusServiceUnavailable})

	cfg := Default()
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.Attempts = 2
	cfg.Header = http.Header{"X-Api-Key": {"k"}}
	cfg.NeedLength = true

	tr, err := resume.New(srv.URL, cfg.TransferOptions()...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := tr.Start(context.Background())
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != string(testutils.Alphabet) {
		t.Errorf("expected alphabet, got %q", data)
	}

	reqs := srv.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Header.Get("X-Api-Key") != "k" {
		t.Error("expected configured header on request")
	}
	if reqs[0].AcceptEncoding != "identity" {
		t.Errorf("expected identity encoding, got %q", reqs[0].AcceptEncoding)
	}
}

func TestTransferOptionsInvalid(t *testing.T) {
	cfg := Default()
	cfg.BufferSize = 0
	if _, err := resume.New("http://example.com", cfg.TransferOptions()...); err == nil {
		t.Error("expected invalid options error")
	}
}
