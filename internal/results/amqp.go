package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/script"
)

const (
	exchangeType    = "topic"
	contentTypeJSON = "application/json"
)

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes results to a topic exchange with routing key
// "result.<status>", so consumers can bind to failures only.
type AMQPSink struct {
	exchange string

	mu   sync.Mutex
	pub  Publisher
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg config.AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", cfg.Exchange, err)
	}
	return &AMQPSink{exchange: cfg.Exchange, pub: ch, conn: conn, ch: ch}, nil
}

// NewAMQPSink creates a sink over an existing publisher.
func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{exchange: exchange, pub: pub}
}

// RoutingKey returns the routing key for a status.
func RoutingKey(status script.Status) string {
	return "result." + string(status)
}

// Save implements Sink.
func (s *AMQPSink) Save(ctx context.Context, res script.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.pub.PublishWithContext(ctx, s.exchange, RoutingKey(res.Status), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    res.TaskID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing result %s: %w", res.TaskID, err)
	}
	return nil
}

// Close closes the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	return s.conn.Close()
}
