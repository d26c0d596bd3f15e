package store

import "errors"

var (
	// ErrNotFound indicates a missing resource lookup.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("record already exists")
)
