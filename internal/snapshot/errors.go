package snapshot

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// ErrNoComparisonTarget is returned by a diff without an explicit comparison
// target when the owner has no snapshots. It matches ErrNotFound.
var ErrNoComparisonTarget = fmt.Errorf("%w: owner has no current version to compare against", ErrNotFound)

// DecodeError reports a payload that could not be decoded.
// Usually means the owner type's encoder changed after the row was written.
type DecodeError struct {
	SnapshotID int64
	Encoder    string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode snapshot %d with %s encoder: %v", e.SnapshotID, e.Encoder, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TypeResolutionError reports an owner type that cannot be materialized.
type TypeResolutionError struct {
	Type string
	Err  error
}

func (e *TypeResolutionError) Error() string {
	return fmt.Sprintf("resolve owner type %q: %v", e.Type, e.Err)
}

func (e *TypeResolutionError) Unwrap() error { return e.Err }

// WriteError reports a failed capture, encode or append for one owner.
type WriteError struct {
	Owner Owner
	Op    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("snapshot %s for %s: %v", e.Op, e.Owner, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsDecodeError returns true if err wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsTypeResolutionError returns true if err wraps a TypeResolutionError.
func IsTypeResolutionError(err error) bool {
	var te *TypeResolutionError
	return errors.As(err, &te)
}

// IsWriteError returns true if err wraps a WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
