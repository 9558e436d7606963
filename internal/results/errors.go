package results

import "errors"

var (
	// ErrNotFound is returned when no stored result has the requested task id.
	ErrNotFound = errors.New("results: not found")

	// ErrInvalidKey is returned for artifact keys that escape the store root.
	ErrInvalidKey = errors.New("results: invalid artifact key")
)
