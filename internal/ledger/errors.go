package ledger

import (
	"errors"
	"fmt"
)

// PersistenceError wraps a storage failure. The in-memory state and the
// database may disagree once one of these is returned, so callers must
// surface it loudly instead of swallowing it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ErrInsufficientPosition rejects a sell larger than the held quantity.
var ErrInsufficientPosition = errors.New("sell quantity exceeds held position")
