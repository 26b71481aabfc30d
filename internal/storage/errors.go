package storage

import "errors"

// Sentinel errors shared by all storage backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when a caller passes malformed or
	// missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionEnded is returned when attempting to close a session
	// that was already closed. Ended sessions are immutable.
	ErrSessionEnded = errors.New("session already ended")
)
