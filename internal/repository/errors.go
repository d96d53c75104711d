package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a serialization failure or deadlock; the transaction may be retried.
	ErrConflict = errors.New("repository: concurrent update conflict")
	// ErrStaleState signals a guarded update matched no row in the expected state.
	ErrStaleState = errors.New("repository: stale state")
)

// ErrDuplicate indicates a unique constraint rejected the write.
var ErrDuplicate = errors.New("repository: duplicate record")
