// Package eventbus provides the in-process publish/subscribe bus that
// decouples business modules from notification side effects.
//
// Delivery is synchronous, same-process and best-effort: the business
// write that produced an event has already committed by the time Emit
// runs, so a failing listener must never surface back to the emitter.
// Each listener's failure (error or panic) is isolated and centrally
// logged. There is no cross-restart persistence; the downstream
// notification store is the durable step.
//
// One Bus is constructed at process start and passed by reference to
// producers and consumers. There is no package-level instance.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finflow/alertpipe/pkg/logger"
)

// Payload carries the fields every domain event must provide, plus
// event-specific data.
type Payload struct {
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	SourceID  string         `json:"source_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event is an immutable record of something that already happened in the
// business layer.
type Event struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

// Listener handles one event. A non-nil error is logged, never propagated.
type Listener func(ctx context.Context, event Event) error

// Bus fans events out to listeners registered per event type.
// All methods are safe for concurrent use.
type Bus struct {
	listeners map[string][]Listener
	log       *slog.Logger
	mu        sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for listener failures.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates an empty event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[string][]Listener),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a listener for the given event type. Multiple listeners
// per type are allowed and invoked in registration order.
func (b *Bus) On(eventType string, l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], l)
}

// Emit synchronously delivers the event to every listener registered for
// its type. Listener errors and panics are caught and logged; they never
// reach the emitter or sibling listeners.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	listeners := b.listeners[event.Type]
	b.mu.RUnlock()

	for i, l := range listeners {
		if err := b.invoke(ctx, l, event); err != nil {
			b.log.LogAttrs(ctx, slog.LevelError, "event listener failed",
				logger.EventType(event.Type),
				logger.UserID(event.Payload.UserID),
				slog.Int("listener_index", i),
				logger.Error(err),
			)
		}
	}
}

// invoke runs one listener with panic recovery so a misbehaving handler
// cannot take down the emitting goroutine.
func (b *Bus) invoke(ctx context.Context, l Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(ctx, event)
}
