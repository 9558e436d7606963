package bus

import (
	"context"
	"fmt"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
)

// busQoS is fixed: the bus contract is at-most-once.
const busQoS byte = 0

// Transport is the subset of *mqtt.Client the bus needs.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MQTTBus is a Bus backed by an MQTT broker.
type MQTTBus struct {
	transport Transport
}

// NewMQTTBus wraps a connected MQTT client.
func NewMQTTBus(t Transport) *MQTTBus {
	return &MQTTBus{transport: t}
}

// Publish sends payload at QoS 0, non-retained.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.transport.Publish(topic, payload, busQoS, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers handler on the broker.
func (b *MQTTBus) Subscribe(pattern string, handler Handler) error {
	if err := mqtt.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return b.transport.Subscribe(pattern, busQoS, mqtt.MessageHandler(handler))
}
