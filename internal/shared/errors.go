package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateOperation indicates a client operation id was already applied.
	ErrDuplicateOperation = errors.New("operation already applied")
)
