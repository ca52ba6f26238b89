package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing record or job.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation rejected by the current state.
	ErrConflict = errors.New("conflict")
)
