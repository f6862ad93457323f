package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1024")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Last-Modified", "Sat, 01 Jan 2025 00:00:00 GMT")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Head(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	if info.Size != 1024 {
		t.Errorf("expected size 1024, got %d", info.Size)
	}
	if info.ETag != "abc123" {
		t.Errorf("expected ETag 'abc123', got %s", info.ETag)
	}
	if !info.AcceptsRanges {
		t.Error("expected AcceptsRanges to be true")
	}
	if info.ContentType != "application/octet-stream" {
		t.Errorf("expected content-type 'application/octet-stream', got %s", info.ContentType)
	}
	if info.LastModified.IsZero() {
		t.Error("expected LastModified to be parsed")
	}
}

func TestHeadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Head(context.Background(), server.URL)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDoRange(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")

	var gotRange, gotUA, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	req, err := NewRequest(context.Background(), http.MethodGet, server.URL, http.Header{"X-Custom": {"yes"}})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	SetRange(req, 0, 4)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(body) != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", string(body))
	}
	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("expected 206, got %d", resp.StatusCode)
	}
	if gotRange != "bytes=0-4" {
		t.Errorf("expected Range 'bytes=0-4', got %q", gotRange)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("expected User-Agent %q, got %q", DefaultUserAgent, gotUA)
	}
	if gotCustom != "yes" {
		t.Errorf("expected X-Custom 'yes', got %q", gotCustom)
	}
}

func TestNewRequestKeepsUserAgent(t *testing.T) {
	req, err := NewRequest(context.Background(), http.MethodGet, "http://example.com", http.Header{"User-Agent": {"mine"}})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if ua := req.Header.Get("User-Agent"); ua != "mine" {
		t.Errorf("expected User-Agent 'mine', got %q", ua)
	}
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		start, end int64
		expected   string
	}{
		{0, 99, "bytes=0-99"},
		{10, -1, "bytes=10-"},
		{5, 5, "bytes=5-5"},
	}

	for _, tt := range tests {
		if got := FormatRange(tt.start, tt.end); got != tt.expected {
			t.Errorf("FormatRange(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.expected)
		}
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-99/1000", 0, 99, 1000},
		{"bytes 100-199/1000", 100, 199, 1000},
		{"bytes 0-99/*", 0, 99, -1},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}
}

func TestParseContentRangeInvalid(t *testing.T) {
	for _, header := range []string{
		"",
		"0-99/1000",
		"items 0-99/1000",
		"bytes */1000",
		"bytes 0-99",
		"bytes -1-99/1000",
		"bytes 99-0/1000",
		"bytes 0-x/1000",
		"bytes 0-99/abc",
		"bytes 10-25/5",
		"bytes 0-99/99",
	} {
		if _, _, _, err := ParseContentRange(header); err == nil {
			t.Errorf("ParseContentRange(%q): expected error", header)
		}
	}
}

func TestCleanETag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`"abc123"`, "abc123"},
		{`W/"abc123"`, "abc123"},
		{"abc123", "abc123"},
		{`""`, ""},
	}

	for _, tt := range tests {
		result := CleanETag(tt.input)
		if result != tt.expected {
			t.Errorf("CleanETag(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Head(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}

func TestResponseHeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.ResponseHeaderTimeout = 50 * time.Millisecond
	client := NewClient(opts)

	start := time.Now()
	_, err := client.Head(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("timeout took too long: %s", elapsed)
	}
}
