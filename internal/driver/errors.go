package driver

import "errors"

var (
	// ErrElementNotFound is returned when a locator does not resolve.
	ErrElementNotFound = errors.New("driver: element not found")

	// ErrDeviceLost is returned when the device went offline mid-task.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrCommandFailed is returned when the agent reports a failure.
	ErrCommandFailed = errors.New("driver: command failed")

	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("driver: response timeout")

	// ErrInvalidLocator is returned for unknown strategies or bad values.
	ErrInvalidLocator = errors.New("driver: invalid locator")

	// ErrNotStarted is returned when the driver has not subscribed to responses.
	ErrNotStarted = errors.New("driver: not started")
)
