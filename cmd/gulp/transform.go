package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ligustah/gulp/pkg/resume"
)

// decompressor returns the transform for format, or nil for none.
// Formats are checked by config.Validate.
func decompressor(format string) resume.TransformFunc {
	switch strings.ToLower(format) {
	case "gzip":
		return func(r io.Reader) (io.Reader, error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			return zr, nil
		}
	case "zstd":
		return func(r io.Reader) (io.Reader, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("zstd: %w", err)
			}
			return zr.IOReadCloser(), nil
		}
	default:
		return nil
	}
}

// parseHeaders parses "Name: value" pairs as given to -H.
func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header, len(raw))
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, usagef("invalid header %q, want \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
