package storage

import "errors"

// Common storage errors
var (
	// ErrRecordNotFound indicates the record does not exist on the server
	ErrRecordNotFound = errors.New("record not found")
)
