package store

import "fmt"

// StorageError wraps a backend fault: a connection failure, a failed query,
// or any other condition where storage could not serve the operation.
// It matches ErrUnavailable via errors.Is and unwraps to the driver error.
type StorageError struct {
	// Op names the failed operation, e.g. "begin tx" or "insert event".
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUnavailable, letting callers classify any
// StorageError with errors.Is(err, store.ErrUnavailable).
func (e *StorageError) Is(target error) bool {
	return target == ErrUnavailable
}
