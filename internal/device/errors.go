package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrNoDeviceAvailable) {
//	    // reservation conflict: skip the task
//	}
var (
	// ErrDeviceNotFound is returned when a device ID has never been observed.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceReserved is returned when the requested device is held by another task.
	ErrDeviceReserved = errors.New("device: already reserved")

	// ErrDeviceOffline is returned when the requested device is offline or stale.
	ErrDeviceOffline = errors.New("device: offline")

	// ErrNoDeviceAvailable is returned when no device matches a selector.
	ErrNoDeviceAvailable = errors.New("device: no matching device available")

	// ErrRegistryStopped is returned by every operation after Close.
	ErrRegistryStopped = errors.New("device: registry stopped")

	// ErrInvalidObservation is returned for an observation without an id.
	ErrInvalidObservation = errors.New("device: invalid observation")

	// ErrEnumerationFailed wraps failures of the enumeration source.
	ErrEnumerationFailed = errors.New("device: enumeration failed")
)
