package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

// infoPayload is the JSON devices publish on fleet/device/{id}/info.
// Alternate keys are accepted for agents of older app versions.
type infoPayload struct {
	UDID           string   `json:"udid"`
	DeviceID       string   `json:"device_id"`
	Name           string   `json:"name"`
	Model          string   `json:"model"`
	OSVersion      string   `json:"os_version"`
	AndroidVersion string   `json:"android_version"`
	BatteryLevel   *float64 `json:"battery_level"`
	Battery        *float64 `json:"battery"`
	ConnectionType string   `json:"connection_type"`
	Tags           []string `json:"tags"`
}

// ParseInfo decodes an info message. topicID is the {id} segment of the
// topic and is used when the payload carries no id.
func ParseInfo(topicID string, payload []byte) (Observation, error) {
	var p infoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Observation{}, fmt.Errorf("%w: %w", ErrInvalidObservation, err)
	}

	obs := Observation{
		ID:             firstNonEmpty(p.UDID, p.DeviceID, topicID),
		Name:           p.Name,
		Model:          p.Model,
		OSVersion:      firstNonEmpty(p.OSVersion, p.AndroidVersion),
		BatteryLevel:   BatteryUnknown,
		ConnectionType: ConnectionBus,
		Tags:           p.Tags,
		Source:         SourceBus,
	}
	if obs.ID == "" || obs.ID == "*" || obs.ID == "+" {
		return Observation{}, fmt.Errorf("%w: missing device id", ErrInvalidObservation)
	}

	if level := firstNonNil(p.BatteryLevel, p.Battery); level != nil && *level >= 0 && *level <= 100 {
		obs.BatteryLevel = int(*level)
	}

	switch ct := ConnectionType(strings.ToLower(p.ConnectionType)); ct {
	case ConnectionUSB, ConnectionNetwork, ConnectionBus:
		obs.ConnectionType = ct
	}
	return obs, nil
}

// InfoHandler returns a bus handler feeding info messages into r.
// idFromTopic extracts the {id} segment from the concrete topic.
func InfoHandler(r *Registry, idFromTopic func(topic string) (string, bool)) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		topicID, _ := idFromTopic(topic)
		obs, err := ParseInfo(topicID, payload)
		if err != nil {
			return err
		}
		return r.Observe(obs)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
