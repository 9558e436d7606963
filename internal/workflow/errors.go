package workflow

import "errors"

var (
	// ErrInvalidWorkflow is returned when a workflow document fails validation.
	ErrInvalidWorkflow = errors.New("workflow: invalid workflow")

	// ErrUnresolved is returned when no locator strategy resolves before the
	// step timeout.
	ErrUnresolved = errors.New("workflow: element not resolved")

	// ErrStepTimeout is returned when a device call outlives the step timeout.
	ErrStepTimeout = errors.New("workflow: step timed out")

	// ErrUnknownAction is returned for an action the interpreter does not know.
	ErrUnknownAction = errors.New("workflow: unknown action")
)
