package eventbus_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finflow/alertpipe/pkg/eventbus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(typ string) eventbus.Event {
	return eventbus.Event{
		Type: typ,
		Payload: eventbus.Payload{
			UserID:    "user-1",
			Timestamp: time.Now(),
			Source:    "invoice",
			SourceID:  "42",
		},
	}
}

func TestBusEmit(t *testing.T) {
	t.Run("delivers to all listeners for the type", func(t *testing.T) {
		bus := eventbus.New(eventbus.WithLogger(quietLogger()))

		var calls []string
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			calls = append(calls, "first")
			return nil
		})
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			calls = append(calls, "second")
			return nil
		})
		bus.On("invoice.overdue", func(ctx context.Context, e eventbus.Event) error {
			calls = append(calls, "other")
			return nil
		})

		bus.Emit(context.Background(), testEvent("invoice.paid"))
		assert.Equal(t, []string{"first", "second"}, calls)
	})

	t.Run("no listeners is a no-op", func(t *testing.T) {
		bus := eventbus.New(eventbus.WithLogger(quietLogger()))
		bus.Emit(context.Background(), testEvent("unknown.event"))
	})

	t.Run("listener error does not reach siblings or emitter", func(t *testing.T) {
		bus := eventbus.New(eventbus.WithLogger(quietLogger()))

		var secondCalled bool
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			return errors.New("listener exploded")
		})
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			secondCalled = true
			return nil
		})

		bus.Emit(context.Background(), testEvent("invoice.paid"))
		assert.True(t, secondCalled)
	})

	t.Run("listener panic is contained", func(t *testing.T) {
		bus := eventbus.New(eventbus.WithLogger(quietLogger()))

		var secondCalled bool
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			panic("boom")
		})
		bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
			secondCalled = true
			return nil
		})

		assert.NotPanics(t, func() {
			bus.Emit(context.Background(), testEvent("invoice.paid"))
		})
		assert.True(t, secondCalled)
	})
}

func TestBusConcurrentEmit(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))

	var (
		mu    sync.Mutex
		count int
	)
	bus.On("invoice.paid", func(ctx context.Context, e eventbus.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(context.Background(), testEvent("invoice.paid"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, count)
}
