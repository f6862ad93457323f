package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent is sent with every request unless the caller sets one.
const DefaultUserAgent = "gulp/1.0"

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// ConnectTimeout bounds dialing. Zero means no limit.
	ConnectTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake. Zero means no limit.
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after
	// the request was written. Zero means no limit.
	ResponseHeaderTimeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   100,
		ConnectTimeout:        5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64 // -1 if unknown
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Client issues single HTTP attempts. It never retries; retrying is the
// caller's business.
type Client struct {
	client *http.Client
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	return &Client{
		client: &http.Client{Transport: transport},
	}
}

// Wrap uses an existing *http.Client.
func Wrap(c *http.Client) *Client {
	return &Client{client: c}
}

// Do sends req. Non-2xx responses are returned, not turned into errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// CloseIdleConnections closes connections kept alive for reuse.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	req, err := NewRequest(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s", ErrServerError, resp.Status)
	}
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          CleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	return info, nil
}

// NewRequest builds a request carrying the default user agent and a copy
// of header.
func NewRequest(ctx context.Context, method, url string, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	return req, nil
}

// SetRange sets a Range header for bytes start..end inclusive.
// A negative end requests everything from start on.
func SetRange(req *http.Request, start, end int64) {
	req.Header.Set("Range", FormatRange(start, end))
}

// FormatRange renders a Range header value.
func FormatRange(start, end int64) string {
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// CleanETag removes quotes and the weak marker from an ETag value.
func CleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = parseOffset(rangeParts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = parseOffset(rangeParts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", end, start)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = parseOffset(parts[1])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
		if end >= total {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d beyond total %d", end, total)
		}
	}

	return start, end, total, nil
}

// parseOffset accepts only plain decimal digits.
func parseOffset(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("not a byte offset: %q", s)
	}
	return strconv.ParseInt(s, 10, 64)
}
