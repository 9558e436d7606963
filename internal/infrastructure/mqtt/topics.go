package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the fleet topic hierarchy.
//
//	fleet/device/{id}/info       device → orchestrator presence and metadata
//	fleet/device/{id}/command    orchestrator → device
//	fleet/device/*/command       broadcast to every device
//	fleet/device/{id}/response   device → orchestrator command replies
//	fleet/device/{id}/result     execution results for a device
//	fleet/events/{type}          external events for event-triggered plans
//	fleet/orchestrator/status    retained orchestrator liveness (LWT)
//	fleet/orchestrator/results   results of tasks that never reached a device
const (
	// TopicPrefixDevice is the base for all per-device topics.
	TopicPrefixDevice = "fleet/device"

	// TopicPrefixEvents is the base for injected scheduler events.
	TopicPrefixEvents = "fleet/events"

	// TopicPrefixOrchestrator is the base for orchestrator status topics.
	TopicPrefixOrchestrator = "fleet/orchestrator"

	// BroadcastDeviceID is the literal id segment used for broadcast commands.
	BroadcastDeviceID = "*"
)

// Topic channel suffixes.
const (
	channelInfo     = "info"
	channelCommand  = "command"
	channelResponse = "response"
	channelResult   = "result"
)

// Topics provides builders for fleet MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand("emulator-5554")
//	// Returns: "fleet/device/emulator-5554/command"
type Topics struct{}

// DeviceInfo returns the topic a device publishes its metadata on.
//
// Example: fleet/device/emulator-5554/info
func (Topics) DeviceInfo(deviceID string) string {
	return deviceTopic(deviceID, channelInfo)
}

// DeviceCommand returns the topic commands for one device are sent to.
//
// Example: fleet/device/emulator-5554/command
func (Topics) DeviceCommand(deviceID string) string {
	return deviceTopic(deviceID, channelCommand)
}

// BroadcastCommand returns the topic every device agent listens on.
//
// Example: fleet/device/*/command
func (Topics) BroadcastCommand() string {
	return deviceTopic(BroadcastDeviceID, channelCommand)
}

// DeviceResponse returns the topic a device answers commands on.
func (Topics) DeviceResponse(deviceID string) string {
	return deviceTopic(deviceID, channelResponse)
}

// DeviceResult returns the topic execution results for a device are published on.
func (Topics) DeviceResult(deviceID string) string {
	return deviceTopic(deviceID, channelResult)
}

// AllDeviceInfo returns a subscription pattern matching every info topic.
//
// Example: fleet/device/+/info
func (Topics) AllDeviceInfo() string {
	return deviceTopic("+", channelInfo)
}

// AllDeviceResponses returns a subscription pattern matching every response topic.
func (Topics) AllDeviceResponses() string {
	return deviceTopic("+", channelResponse)
}

// Event returns the topic for an injected event of the given type.
//
// Example: fleet/events/build.published
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, eventType)
}

// AllEvents returns a subscription pattern matching every event topic.
func (Topics) AllEvents() string {
	return TopicPrefixEvents + "/+"
}

// OrchestratorResults returns the topic for results that have no device,
// such as tasks rejected before reservation.
func (Topics) OrchestratorResults() string {
	return TopicPrefixOrchestrator + "/results"
}

// OrchestratorStatus returns the retained liveness topic.
func (Topics) OrchestratorStatus() string {
	return TopicPrefixOrchestrator + "/status"
}

func deviceTopic(deviceID, channel string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, deviceID, channel)
}

// DeviceIDFromTopic extracts the {id} segment from a per-device topic.
// Returns false if the topic is not under fleet/device.
func DeviceIDFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// EventTypeFromTopic extracts the event type from a fleet/events/{type} topic.
func EventTypeFromTopic(topic string) (string, bool) {
	eventType, ok := strings.CutPrefix(topic, TopicPrefixEvents+"/")
	if !ok || eventType == "" || strings.Contains(eventType, "/") {
		return "", false
	}
	return eventType, true
}

// Match reports whether topic matches an MQTT subscription pattern.
//
// "+" matches exactly one level and "#" (only valid as the final level)
// matches the remaining levels including none. "*" has no special meaning
// in MQTT and only matches a literal "*" level.
func Match(pattern, topic string) bool {
	patternLevels := strings.Split(pattern, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range patternLevels {
		if level == "#" {
			return i == len(patternLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(patternLevels) == len(topicLevels)
}

// ValidatePattern checks that a subscription pattern uses wildcards legally.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q ('#' must be the whole final level)", ErrInvalidTopic, pattern)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q ('+' must be a whole level)", ErrInvalidTopic, pattern)
		}
	}
	return nil
}
