// Package resume fetches an HTTP resource as a single byte stream that
// survives dropped connections.
//
// A transfer issues a GET, streams the body to the caller and, when the
// connection fails, waits according to a Backoff and continues with a
// Range request from the first byte the caller has not yet received.
// Every response is validated against what the transfer already knows:
// the Content-Range must start at the current position, the length must
// not change and neither may the ETag or (unless disabled) Last-Modified.
// A mismatch is treated like a transport error and retried.
//
// # Usage
//
//	s, err := resume.Fetch(ctx, url,
//		resume.WithOffset(1024),
//		resume.WithAttempts(5),
//	)
//	if err != nil {
//		return err // invalid options
//	}
//	defer s.Close()
//
//	_, err = io.Copy(dst, s) // io.EOF, ErrCancelled or *ExhaustedError
//
// # Windows
//
// Offset and Length select the half-open byte range [Offset, Length) of
// the resource. Length is an absolute end offset, not a byte count.
// Bytes outside the window are never delivered, even if a server ignores
// part of the requested range.
//
// # Attempts
//
// Attempts limits consecutive attempts that deliver no byte; an attempt
// that makes progress resets the count. AttemptsTotal limits attempts over
// the whole transfer.
//
// # Cancellation
//
// Cancel, Stream.Close or cancelling the context passed to Fetch abort
// whatever the transfer is waiting on (the pre hook, the request or the
// retry delay) and end the stream with ErrCancelled.
package resume
