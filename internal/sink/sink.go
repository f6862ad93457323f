// Package sink writes transfer streams to their destination: local files,
// an io.Writer such as stdout, or an object storage bucket.
package sink

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/ligustah/gulp/pkg/resume"
)

// ErrExists is returned when the destination already exists and
// overwriting was not requested.
var ErrExists = errors.New("sink: destination exists")

// ErrStorage wraps failures of the destination itself.
var ErrStorage = errors.New("sink: storage error")

// Sink consumes a transfer stream. Write returns once the transfer has
// ended, with the first error of either side. Write owns s and closes it.
type Sink interface {
	Write(ctx context.Context, name string, s *resume.Stream) error
}

// NameFromURL derives a file name from the last path element of rawURL.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(strings.TrimSuffix(u.Path, "/"))
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

// discard drains nothing and waits for the transfer to stop.
func discard(s *resume.Stream) {
	s.Close()
	<-s.Done()
}
