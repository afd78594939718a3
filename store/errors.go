package store

import (
	"errors"
	"fmt"
)

// ErrStaleWrite matches any stale-write conflict via errors.Is.
var ErrStaleWrite = errors.New("stale write")

// StaleWriteError is returned when a write carries a version older than the
// one already stored for the entity. Callers treat it as normal concurrent
// edit ordering, not a failure to surface.
type StaleWriteError struct {
	Ref       Ref
	Stored    uint64
	Attempted uint64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for %s/%s: stored version %d, attempted %d", e.Ref.Kind, e.Ref.ID, e.Stored, e.Attempted)
}

func (e *StaleWriteError) Is(target error) bool {
	return target == ErrStaleWrite
}
