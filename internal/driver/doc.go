// Package driver defines the Device Driver collaborator and its bus
// implementation.
//
// UI primitives (tap, swipe, text input, element lookup, screenshots) run
// on the device agent. BusDriver forwards each primitive as a Command on
// fleet/device/{id}/command and waits for the matching Response on
// fleet/device/{id}/response, paired by command id.
//
// Guard wraps a Device so that every call first checks the registry: a
// device that went offline fails with ErrDeviceLost instead of waiting
// out a timeout.
package driver
