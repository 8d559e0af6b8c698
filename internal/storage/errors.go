package storage

import "errors"

var (
	ErrInvalidKey            = errors.New("invalid object key")
	ErrNoSuchKey             = errors.New("no such key")
	ErrKeyConflict           = errors.New("key conflicts with an existing object or prefix")
	ErrEntityTooLarge        = errors.New("entity too large")
	ErrInvalidRange          = errors.New("invalid range")
	ErrContentSHA256Mismatch = errors.New("content sha256 mismatch")
)

var (
	ErrNotModified        = errors.New("not modified")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// RangeError reports an unsatisfiable range together with the size of the
// object, which the caller needs for "Content-Range: bytes */size".
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return ErrInvalidRange.Error()
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}
