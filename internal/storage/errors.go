package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrPathTraversal reports a name that is malformed or escapes the storage root.
	ErrPathTraversal = errors.New("storage: path escapes storage root")
	// ErrUnsupportedMediaType reports an upload whose declared type is not a supported video format.
	ErrUnsupportedMediaType = errors.New("storage: unsupported media type")
	// ErrNotFound reports that the named asset does not exist.
	ErrNotFound = errors.New("storage: asset not found")
	// ErrTooLarge reports an upload that exceeded the configured size cap.
	ErrTooLarge = errors.New("storage: upload exceeds size limit")
	// ErrIOFailure matches every *IOError via errors.Is.
	ErrIOFailure = errors.New("storage: io failure")
)

// IOError wraps an underlying file-system failure. The operation name and
// cause are meant for logs; callers exposing errors to clients should report
// a generic message instead.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIOFailure) match any IOError.
func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}

func ioError(op string, err error) error {
	return &IOError{Op: op, Err: err}
}
