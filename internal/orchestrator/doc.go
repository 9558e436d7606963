// Package orchestrator runs scheduled tasks on fleet devices.
//
// It owns the scheduler loop and a bounded pool of workers. For each task a
// worker validates the workplan, atomically reserves a matching device,
// connects a presence-guarded driver handle, runs the script engine and
// releases the device (or marks it offline when it was lost), then hands
// the result to the result sink. A task that finds no device is skipped and
// becomes due again on the next tick.
//
// Shutdown cancels the scheduler first. Workers stop taking tasks and let
// in-flight executions finish; a drain timeout bounds how long they get.
package orchestrator
