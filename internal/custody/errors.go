package custody

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned for missing identifiers or an unknown activity type.
	ErrInvalidEvent = errors.New("custody: invalid event")

	// ErrConcurrentAppend means another writer extended the chain between the tail
	// read and the append. The whole record operation may be retried.
	// Stores return it unwrapped by StorageError so errors.Is stays cheap for callers.
	ErrConcurrentAppend = errors.New("custody: concurrent append conflict")

	// ErrChainSealed is returned when recording after a terminal "deleted" event.
	ErrChainSealed = errors.New("custody: chain sealed by deletion")

	// ErrEmptyChain is returned by certificate generation when the policy requires
	// at least one event.
	ErrEmptyChain = errors.New("custody: chain has no events")
)

// StorageError reports an unreachable store or an unexpected constraint failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("custody: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it is nil or already a conflict.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrentAppend) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// EncodingError reports metadata that cannot be serialised canonically.
// It is raised before any store interaction.
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("custody: encode %s: %v", e.Field, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsEncodingError(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}
