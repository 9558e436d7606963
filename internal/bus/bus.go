package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
)

// Handler receives a message published on a topic matching the
// subscription pattern. Returned errors are logged by the bus.
type Handler func(topic string, payload []byte) error

// Bus is the Command Bus contract.
type Bus interface {
	// Publish sends payload to topic once. No retry on failure.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for every topic matching pattern.
	// Patterns use MQTT wildcards: "+" for one level, "#" for the rest.
	Subscribe(pattern string, handler Handler) error
}

// Command is the payload sent on fleet/device/{id}/command.
type Command struct {
	ID       string         `json:"id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
}

// Response is the payload devices send on fleet/device/{id}/response.
type Response struct {
	ID       string          `json:"id"`
	DeviceID string          `json:"device_id"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewCommand builds a Command with a fresh id.
func NewCommand(action string, params map[string]any) Command {
	return Command{
		ID:       uuid.NewString(),
		Action:   action,
		Params:   params,
		IssuedAt: time.Now().UTC(),
	}
}

// SendCommand publishes cmd to one device's command topic.
func SendCommand(ctx context.Context, b Bus, deviceID string, cmd Command) error {
	return publishCommand(ctx, b, mqtt.Topics{}.DeviceCommand(deviceID), cmd)
}

// Broadcast publishes cmd to fleet/device/*/command.
func Broadcast(ctx context.Context, b Bus, cmd Command) error {
	return publishCommand(ctx, b, mqtt.Topics{}.BroadcastCommand(), cmd)
}

func publishCommand(ctx context.Context, b Bus, topic string, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command %s: %w", cmd.Action, err)
	}
	return b.Publish(ctx, topic, payload)
}
