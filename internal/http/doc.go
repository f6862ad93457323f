// Package http provides the HTTP transport used by resumable transfers.
//
// This package handles:
//   - Per-phase timeouts (dial, TLS handshake, response headers)
//   - Uncompressed transfers, so byte offsets match the resource
//   - Range header construction and Content-Range parsing
//   - HEAD requests to get file metadata
//
// The client makes exactly one attempt per call. Retries, resumption and
// validation live in pkg/resume.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	// Fetch from byte 1024 to the end
//	req, err := http.NewRequest(ctx, "GET", url, nil)
//	http.SetRange(req, 1024, -1)
//	resp, err := client.Do(req)
package http
