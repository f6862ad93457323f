// Package testutils provides shared test infrastructure: an HTTP server
// that serves ranges and injects faults, and (with the integration build
// tag) a Minio environment.
package testutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Alphabet is the canonical small test resource.
var Alphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Fault describes how the server misbehaves for one request. The zero
// value serves the request correctly.
type Fault struct {
	// Status answers with this status code and no body.
	Status int

	// CutAfter drops the connection after this many body bytes.
	CutAfter int64

	// StallAfter stops sending after this many body bytes and holds the
	// connection open for Stall, or until the client goes away.
	StallAfter int64
	Stall      time.Duration

	// IgnoreRange answers 200 with the full body regardless of Range.
	IgnoreRange bool

	// OmitContentRange leaves out the Content-Range header on 206.
	OmitContentRange bool

	// ETag and LastModified override the resource's validators.
	ETag         string
	LastModified string

	// Header is added to the response.
	Header http.Header

	// ChunkSize and ChunkDelay pace the body.
	ChunkSize  int
	ChunkDelay time.Duration
}

// Request records what the server received.
type Request struct {
	Method         string
	Range          string
	AcceptEncoding string
	Header         http.Header
}

// Server serves one resource with range support.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	data         []byte
	etag         string
	lastModified string
	faults       []Fault
	requests     []Request
}

// NewServer starts a server for data. It is closed when the test ends.
func NewServer(t testing.TB, data []byte) *Server {
	t.Helper()

	s := &Server{
		data:         data,
		etag:         `"v1"`,
		lastModified: "Mon, 02 Jan 2006 15:04:05 GMT",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetFaults sets the faults for the next requests, in order. Requests
// past the list are served correctly.
func (s *Server) SetFaults(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = faults
}

// SetETag changes the resource's ETag for all later requests.
func (s *Server) SetETag(etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.etag = etag
}

// Requests returns a copy of the received requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns the number of received requests.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, Request{
		Method:         r.Method,
		Range:          r.Header.Get("Range"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Header:         r.Header.Clone(),
	})
	var f Fault
	if n < len(s.faults) {
		f = s.faults[n]
	}
	data, etag, lastModified := s.data, s.etag, s.lastModified
	s.mu.Unlock()

	if f.ETag != "" {
		etag = f.ETag
	}
	if f.LastModified != "" {
		lastModified = f.LastModified
	}
	for k, vs := range f.Header {
		w.Header()[k] = vs
	}

	if f.Status != 0 {
		w.WriteHeader(f.Status)
		return
	}

	size := int64(len(data))
	start, end := int64(0), size-1
	ranged := false
	if rh := r.Header.Get("Range"); rh != "" && !f.IgnoreRange {
		var ok bool
		start, end, ok = parseRange(rh, size)
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		ranged = true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if ranged {
		if !f.OmitContentRange {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		}
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead {
		return
	}
	s.writeBody(r.Context(), w, data[start:end+1], f)
}

func (s *Server) writeBody(ctx context.Context, w http.ResponseWriter, body []byte, f Fault) {
	flusher, _ := w.(http.Flusher)

	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = len(body)
	}

	var written int64
	for len(body) > 0 {
		n := min(chunk, len(body))
		if f.CutAfter > 0 {
			n = int(min(int64(n), f.CutAfter-written))
		}
		if f.StallAfter > 0 && written < f.StallAfter {
			n = int(min(int64(n), f.StallAfter-written))
		}

		if _, err := w.Write(body[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		body = body[n:]
		written += int64(n)

		if f.CutAfter > 0 && written >= f.CutAfter {
			panic(http.ErrAbortHandler)
		}
		if f.StallAfter > 0 && written == f.StallAfter {
			if !sleep(ctx, f.Stall) {
				return
			}
		}
		if f.ChunkDelay > 0 && len(body) > 0 {
			if !sleep(ctx, f.ChunkDelay) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseRange handles "bytes=S-" and "bytes=S-E".
func parseRange(h string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(h, "bytes=")
	if !found {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		end = min(e, size-1)
	}
	return start, end, true
}
