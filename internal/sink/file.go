package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ligustah/gulp/pkg/resume"
)

// partialSuffix marks a file that is still being written.
const partialSuffix = ".gulp-partial"

// File writes a single transfer to Path, ignoring the name.
type File struct {
	Path  string
	Force bool
}

// Write implements Sink. Data goes to a partial file that replaces Path
// only after the transfer completed.
func (f File) Write(_ context.Context, _ string, s *resume.Stream) error {
	return writeFile(f.Path, f.Force, s)
}

// Dir writes every transfer to a file called name inside Path.
type Dir struct {
	Path  string
	Force bool
}

// Write implements Sink.
func (d Dir) Write(_ context.Context, name string, s *resume.Stream) error {
	return writeFile(filepath.Join(d.Path, name), d.Force, s)
}

func writeFile(dst string, force bool, s *resume.Stream) error {
	if !force {
		if _, err := os.Stat(dst); err == nil {
			discard(s)
			return fmt.Errorf("%w: %s", ErrExists, dst)
		}
	}

	tmp := dst + partialSuffix
	f, err := os.Create(tmp)
	if err != nil {
		discard(s)
		return fmt.Errorf("%w: create file: %w", ErrStorage, err)
	}

	copyErr := resume.Copy(f, s)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close file: %w", ErrStorage, closeErr)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("%w: rename file: %w", ErrStorage, err)
	}
	return nil
}

// Writer writes every transfer to W in turn. It is not safe for
// concurrent transfers.
type Writer struct {
	W io.Writer
}

// Write implements Sink.
func (w Writer) Write(_ context.Context, _ string, s *resume.Stream) error {
	return resume.Copy(w.W, s)
}
