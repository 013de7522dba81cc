package storage

import "errors"

// Sentinel errors shared by all storage implementations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidInput is returned when a caller passes data that cannot be
	// persisted (e.g. an empty batch where rows are required).
	ErrInvalidInput = errors.New("storage: invalid input")
)
