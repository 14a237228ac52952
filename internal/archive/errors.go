package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested checkpoint does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("archive is closed")
)

// NotFoundError wraps ErrNotFound with the lookup key.
type NotFoundError struct {
	ThreadID string
	TurnID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint not found: thread %s turn %s", e.ThreadID, e.TurnID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
