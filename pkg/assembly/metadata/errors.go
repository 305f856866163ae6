package metadata

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// ErrImportFailed means a table enumeration could not be completed.
var ErrImportFailed = errors.New("metadata import failed")

// ImportError carries the operation and cause of a failed import. It matches
// ErrImportFailed under errors.Is.
type ImportError struct {
	Op  string
	Err error
}

func (e *ImportError) Error() string {
	return ErrImportFailed.Error() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *ImportError) Unwrap() error { return e.Err }

func (e *ImportError) Is(target error) bool { return target == ErrImportFailed }

func importFailed(op string, err error) error {
	return errors.WithStack(&ImportError{Op: op, Err: err})
}

func malformedf(format string, args ...interface{}) error {
	return errors.Wrapf(image.ErrMalformed, format, args...)
}
