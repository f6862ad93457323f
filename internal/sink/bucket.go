package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/pkg/resume"
)

// Metadata keys stored with every object.
const (
	MetaSourceURL          = "source_url"
	MetaSourceETag         = "source_etag"
	MetaSourceLastModified = "source_last_modified"
)

// Bucket writes transfers as objects named Prefix+name.
type Bucket struct {
	bucket *blob.Bucket
	prefix string
	force  bool
}

// OpenBucket opens the bucket at url (s3://, gs://, file://, mem://).
func OpenBucket(ctx context.Context, url, prefix string, force bool) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: open bucket: %w", ErrStorage, err)
	}
	return NewBucket(b, prefix, force), nil
}

// NewBucket wraps an open bucket.
func NewBucket(b *blob.Bucket, prefix string, force bool) *Bucket {
	return &Bucket{bucket: b, prefix: prefix, force: force}
}

// Key returns the object key for name.
func (b *Bucket) Key(name string) string {
	return b.prefix + name
}

// Metadata returns the metadata stored with the object for name.
// The error wraps gcerrors.NotFound if there is no such object.
func (b *Bucket) Metadata(ctx context.Context, name string) (map[string]string, error) {
	attrs, err := b.bucket.Attributes(ctx, b.Key(name))
	if err != nil {
		return nil, err
	}
	return attrs.Metadata, nil
}

// Write implements Sink. The object is created only after the first
// response was validated, so its metadata records the source version.
// A failed transfer aborts the upload and leaves no object behind.
func (b *Bucket) Write(ctx context.Context, name string, s *resume.Stream) error {
	key := b.Key(name)

	if !b.force {
		exists, err := b.exists(ctx, key)
		if err != nil {
			discard(s)
			return err
		}
		if exists {
			discard(s)
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
	}

	// Wait for the first byte (or the end) so the fingerprint is known.
	br := bufio.NewReader(s)
	if _, err := br.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		discard(s)
		return err
	}
	snap := s.Snapshot()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := b.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		Metadata: map[string]string{
			MetaSourceURL:          snap.URL,
			MetaSourceETag:         gulphttp.CleanETag(snap.Fingerprint.ETag),
			MetaSourceLastModified: snap.Fingerprint.LastModified,
		},
	})
	if err != nil {
		discard(s)
		return fmt.Errorf("%w: create writer: %w", ErrStorage, err)
	}

	if _, err := io.Copy(w, br); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		w.Close()
		discard(s)
		return err
	}

	if err := w.Close(); err != nil {
		discard(s)
		return fmt.Errorf("%w: close writer: %w", ErrStorage, err)
	}
	discard(s)
	return s.Err()
}

// Close closes the underlying bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

func (b *Bucket) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.bucket.Attributes(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case gcerrors.Code(err) == gcerrors.NotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: check %s: %w", ErrStorage, key, err)
	}
}
