package lifecycle

import (
	"errors"
	"fmt"
)

// ErrDuplicateInstance is returned when an instance already has a live
// sandbox and the caller raced with itself or another caller. Recover by
// re-querying the existing handle.
var ErrDuplicateInstance = errors.New("instance already has a live sandbox")

// ErrCapacityExceeded is returned when the capacity ceiling is reached
// and no idle sandbox could be reclaimed. Callers should surface it as
// "try again later"; the manager never retries on its own.
var ErrCapacityExceeded = errors.New("sandbox capacity exceeded")

// InitError reports that the underlying runtime failed to start a
// sandbox. The failed handle is fully cleaned up before it is returned.
type InitError struct {
	InstanceID string
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing sandbox for instance %s: %v", e.InstanceID, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
