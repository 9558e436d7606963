// Package mqtt provides MQTT client connectivity for the fleet Command Bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing and wildcard subscriptions
//   - Last Will and Testament on fleet/orchestrator/status
//   - The fleet topic hierarchy and an in-process topic matcher
//
// # Architecture
//
// The orchestrator and the on-device agents never talk directly. Commands
// go out on fleet/device/{id}/command (or fleet/device/*/command for a
// broadcast), devices announce themselves on fleet/device/{id}/info and
// answer on fleet/device/{id}/response.
//
//	orchestrator ↔ MQTT broker ↔ device agents
//
// Delivery is at-most-once: the bus publishes at QoS 0 without retention
// and never retries. Match implements the same wildcard rules the broker
// applies so the in-memory bus used by dry runs behaves identically.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceInfo(), 0, handleInfo)
//	client.Publish(mqtt.Topics{}.DeviceCommand("emulator-5554"), payload, 0, false)
package mqtt
