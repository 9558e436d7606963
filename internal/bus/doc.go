// Package bus defines the fleet Command Bus.
//
// The bus is a publish/subscribe contract over hierarchical topics
// (fleet/device/{id}/info, fleet/device/{id}/command, ...). Delivery is
// at-most-once with no cross-device ordering; a failed publish is returned
// to the caller and never retried here.
//
// Two implementations are provided:
//   - MQTTBus forwards to the paho client in internal/infrastructure/mqtt
//   - MemoryBus dispatches in-process with the same wildcard rules
package bus
