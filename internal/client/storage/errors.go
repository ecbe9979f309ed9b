package storage

import "errors"

// Common local store errors
var (
	// ErrRecordNotFound indicates that no cached copy of the record exists
	ErrRecordNotFound = errors.New("cached record not found")

	// ErrOperationNotFound indicates that the queued operation was not found
	ErrOperationNotFound = errors.New("operation not found")

	// ErrConflictNotFound indicates that the conflict item was not found
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
