package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
)

// Logger is the logging interface used by the in-memory bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type memorySub struct {
	pattern string
	handler Handler
}

// MemoryBus is an in-process Bus.
//
// Publish delivers synchronously to every matching subscriber on the
// caller's goroutine, so handlers must not publish back into a topic they
// are blocked on. Handler errors and panics are logged and swallowed.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []memorySub
	closed bool
	logger Logger
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{logger: noopLogger{}}
}

// SetLogger sets the logger for handler failures.
func (b *MemoryBus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Publish delivers payload to every subscriber whose pattern matches topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var matched []Handler
	for _, s := range b.subs {
		if mqtt.Match(s.pattern, topic) {
			matched = append(matched, s.handler)
		}
	}
	logger := b.logger
	b.mu.RUnlock()

	for _, h := range matched {
		deliver(logger, h, topic, payload)
	}
	return nil
}

func deliver(logger Logger, h Handler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	// Each subscriber gets its own copy.
	msg := append([]byte(nil), payload...)
	if err := h(topic, msg); err != nil {
		logger.Warn("bus handler returned error", "topic", topic, "error", err)
	}
}

// Subscribe registers handler for pattern.
func (b *MemoryBus) Subscribe(pattern string, handler Handler) error {
	if err := mqtt.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidPattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs = append(b.subs, memorySub{pattern: pattern, handler: handler})
	return nil
}

// Close drops all subscriptions. Later calls fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
	return nil
}
