package sink

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/gulp/internal/testutils"
	"github.com/ligustah/gulp/pkg/resume"
)

var fast = resume.WithBackoff(resume.Exponential{Initial: time.Millisecond})

func fetch(t *testing.T, url string, opts ...resume.Option) *resume.Stream {
	t.Helper()
	s, err := resume.Fetch(context.Background(), url, opts...)
	require.NoError(t, err)
	return s
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com/files/data.tar.gz", "data.tar.gz"},
		{"https://example.com/files/data.tar.gz?sig=abc", "data.tar.gz"},
		{"https://example.com/dir/", "dir"},
		{"https://example.com", "download"},
		{"https://example.com/", "download"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NameFromURL(tt.url), tt.url)
	}
}

func TestFile(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{CutAfter: 4})

	path := filepath.Join(t.TempDir(), "alphabet.txt")
	err := File{Path: path}.Write(context.Background(), "ignored", fetch(t, srv.URL, fast))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testutils.Alphabet, data)

	_, err = os.Stat(path + partialSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestFileExists(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)

	path := filepath.Join(t.TempDir(), "alphabet.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	s := fetch(t, srv.URL)
	err := File{Path: path}.Write(context.Background(), "", s)
	assert.ErrorIs(t, err, ErrExists)
	assert.ErrorIs(t, s.Err(), resume.ErrCancelled)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "old", string(data))

	err = File{Path: path, Force: true}.Write(context.Background(), "", fetch(t, srv.URL))
	require.NoError(t, err)
	data, _ = os.ReadFile(path)
	assert.Equal(t, testutils.Alphabet, data)
}

func TestFileFailureKeepsPartial(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{CutAfter: 4}, testutils.Fault{ETag: `"v2"`})

	path := filepath.Join(t.TempDir(), "alphabet.txt")
	err := File{Path: path}.Write(context.Background(), "", fetch(t, srv.URL, fast, resume.WithAttempts(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, resume.ErrInconsistent)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(path + partialSuffix)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(data))
}

func TestDir(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)
	dir := t.TempDir()

	err := Dir{Path: dir}.Write(context.Background(), "a.txt", fetch(t, srv.URL, resume.WithLength(3)))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))
}

func TestWriter(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Alphabet)

	var buf bytes.Buffer
	w := Writer{W: &buf}
	require.NoError(t, w.Write(context.Background(), "", fetch(t, srv.URL, resume.WithLength(2))))
	require.NoError(t, w.Write(context.Background(), "", fetch(t, srv.URL, resume.WithOffset(24))))
	assert.Equal(t, "ABYZ", buf.String())
}

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	b, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBucket(t *testing.T) {
	ctx := context.Background()
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{CutAfter: 10})

	mem := openMemBucket(t)
	b := NewBucket(mem, "downloads/", false)

	err := b.Write(ctx, "alphabet.txt", fetch(t, srv.URL, fast))
	require.NoError(t, err)

	data, err := mem.ReadAll(ctx, "downloads/alphabet.txt")
	require.NoError(t, err)
	assert.Equal(t, testutils.Alphabet, data)

	md, err := b.Metadata(ctx, "alphabet.txt")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, md[MetaSourceURL])
	assert.Equal(t, "v1", md[MetaSourceETag])
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", md[MetaSourceLastModified])
}

func TestBucketExists(t *testing.T) {
	ctx := context.Background()
	srv := testutils.NewServer(t, testutils.Alphabet)

	mem := openMemBucket(t)
	require.NoError(t, mem.WriteAll(ctx, "alphabet.txt", []byte("old"), nil))

	err := NewBucket(mem, "", false).Write(ctx, "alphabet.txt", fetch(t, srv.URL))
	assert.ErrorIs(t, err, ErrExists)

	err = NewBucket(mem, "", true).Write(ctx, "alphabet.txt", fetch(t, srv.URL))
	require.NoError(t, err)
	data, err := mem.ReadAll(ctx, "alphabet.txt")
	require.NoError(t, err)
	assert.Equal(t, testutils.Alphabet, data)
}

func TestBucketFailureLeavesNoObject(t *testing.T) {
	ctx := context.Background()
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{CutAfter: 10}, testutils.Fault{ETag: `"v2"`})

	mem := openMemBucket(t)
	b := NewBucket(mem, "", false)

	err := b.Write(ctx, "alphabet.txt", fetch(t, srv.URL, fast, resume.WithAttempts(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, resume.ErrExhausted)

	_, err = b.Metadata(ctx, "alphabet.txt")
	assert.Equal(t, gcerrors.NotFound, gcerrors.Code(err))
}

func TestBucketFirstResponseFailure(t *testing.T) {
	ctx := context.Background()
	srv := testutils.NewServer(t, testutils.Alphabet)
	srv.SetFaults(testutils.Fault{Status: http.StatusNotFound})

	mem := openMemBucket(t)
	err := NewBucket(mem, "", false).Write(ctx, "x", fetch(t, srv.URL, resume.WithAttempts(1)))

	var se *resume.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	exists, err := mem.Exists(ctx, "x")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBucketEmptyResource(t *testing.T) {
	ctx := context.Background()
	srv := testutils.NewServer(t, []byte{})

	mem := openMemBucket(t)
	require.NoError(t, NewBucket(mem, "", false).Write(ctx, "empty", fetch(t, srv.URL)))

	r, err := mem.NewReader(ctx, "empty", nil)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}
