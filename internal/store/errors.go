package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when the store rejects a record that
	// violates a schema constraint.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrClaimLost is returned by fenced updates when the job is no longer
	// processing under the caller's claim (node and attempt). The recovery
	// sweep has already taken the job over, so the caller's outcome is dropped.
	ErrClaimLost = errors.New("job claim lost")

	// ErrJobNotFound indicates that the requested job does not exist in the store.
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)

	// ErrArtifactNotFound indicates that the requested artifact does not exist in the store.
	ErrArtifactNotFound = fmt.Errorf("%w: artifact", ErrNotFound)
)

// PersistenceError reports that the store could not be reached or refused an
// operation. Enqueue propagates it to callers; the claim loop and sweep log
// it and retry on their next cycle.
type PersistenceError struct {
	Op  string // The operation that failed (e.g., "create job", "claim")
	Err error  // Original error
}

// Error implements the error interface for PersistenceError.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err for op. Sentinel store errors (not found,
// duplicate, claim lost) pass through unwrapped since they are answers,
// not outages.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrClaimLost) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError reports whether err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
