package image

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Source is the read-only byte image of an opened file.
type Source struct {
	path    string
	data    []byte
	release func() error

	once     sync.Once
	closeErr error
}

// OpenSource opens path and maps its contents read-only.
// The file must not change while the Source is open.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	if !fi.Mode().IsRegular() {
		return nil, errors.Errorf("%s is not a regular file", path)
	}

	data, release, err := mapFile(f, fi.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "map %s", path)
	}
	return &Source{path: path, data: data, release: release}, nil
}

// NewSource wraps an in-memory image. Close is a no-op for the buffer.
func NewSource(path string, data []byte) *Source {
	return &Source{path: path, data: data}
}

// Path returns the path the source was opened from.
func (s *Source) Path() string {
	return s.path
}

// Bytes returns the image contents. The slice is invalid after Close.
func (s *Source) Bytes() []byte {
	return s.data
}

// Cursor returns a new cursor over the image.
func (s *Source) Cursor() *Cursor {
	return NewCursor(s.data)
}

// Close releases the mapping. It is safe to call more than once.
func (s *Source) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.closeErr = s.release()
		}
		s.data = nil
	})
	return s.closeErr
}
