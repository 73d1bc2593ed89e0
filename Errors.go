package hnswdb

import "errors"
import "fmt"


//============================================= Store Errors


// ErrorKind classifies the failure modes a Store operation can surface.
type ErrorKind uint8

const (
	// ErrInvalidParams: caller gave an empty name, zero dimension, or malformed vector.
	ErrInvalidParams ErrorKind = iota
	// ErrDatabase: the metadata key-value store operation failed.
	ErrDatabase
	// ErrSerialization: a value could not be encoded to the on-disk format.
	ErrSerialization
	// ErrDeserialization: the on-disk format was violated, truncated, or referenced a bad offset.
	ErrDeserialization
	// ErrIO: a file open/read/write/seek failure.
	ErrIO
	// ErrDistance: dimension mismatch computing a similarity.
	ErrDistance
	// ErrQuantization: training or quantization failed.
	ErrQuantization
)

func (kind ErrorKind) String() string {
	switch kind {
		case ErrInvalidParams: return "invalid params"
		case ErrDatabase: return "database error"
		case ErrSerialization: return "serialization error"
		case ErrDeserialization: return "deserialization error"
		case ErrIO: return "io error"
		case ErrDistance: return "distance error"
		case ErrQuantization: return "quantization error"
		default: return "unknown error"
	}
}

// StoreError wraps an underlying cause with the error kind callers match on.
type StoreError struct {
	Kind ErrorKind
	Err error
}

func (err *StoreError) Error() string {
	if err.Err != nil { return fmt.Sprintf("%s: %s", err.Kind.String(), err.Err.Error()) }
	return err.Kind.String()
}

func (err *StoreError) Unwrap() error { return err.Err }

func newErr(kind ErrorKind, format string, args ...interface{}) *StoreError {
	return &StoreError{ Kind: kind, Err: fmt.Errorf(format, args...) }
}

// IsKind reports whether err is a *StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) { return storeErr.Kind == kind }
	return false
}

var (
	// ErrCorrupt: an offset in a serialized record fell outside the readable region.
	ErrCorrupt = errors.New("corrupt record: offset out of bounds")
	// ErrTruncated: fewer bytes were available than the record layout requires.
	ErrTruncated = errors.New("truncated record: short read")
	// ErrPatchPastFlush: a seek targeted a position already flushed to disk.
	ErrPatchPastFlush = errors.New("buffered writer: seek target already flushed")
)
