package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/versionable/internal/snapshot"
)

// Collaborators an operation needs but the engine was built without.
var (
	ErrNoSaver  = errors.New("engine has no record saver configured")
	ErrNoFinder = errors.New("engine has no record finder configured")
	ErrNoQueue  = errors.New("engine is in async mode without a queue")
)

// PurgeError reports a retention purge that failed after a snapshot was
// written. The snapshot returned alongside it is stored and valid.
type PurgeError struct {
	Owner snapshot.Owner
	Err   error
}

// Error implements the error interface.
func (e *PurgeError) Error() string {
	return fmt.Sprintf("purge snapshots for %s: %v", e.Owner, e.Err)
}

func (e *PurgeError) Unwrap() error { return e.Err }

// IsPurgeError returns true if the error is a post-write purge failure.
// Uses errors.As to handle wrapped errors.
func IsPurgeError(err error) bool {
	var pe *PurgeError
	return errors.As(err, &pe)
}
