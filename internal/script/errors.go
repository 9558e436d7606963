package script

import "errors"

var (
	// ErrNotFound is returned when no source provides the requested module.
	ErrNotFound = errors.New("script: not found")

	// ErrContractViolation is returned when a module does not expose exactly
	// one usable unit, or a unit reports a status outside the allowed set.
	ErrContractViolation = errors.New("script: contract violation")

	// ErrInvalidWorkplan is returned when a workplan fails validation.
	ErrInvalidWorkplan = errors.New("script: invalid workplan")

	// ErrDuplicateModule is returned when registering a name twice.
	ErrDuplicateModule = errors.New("script: duplicate module")
)
