package events

import (
	"context"
	"sync"

	"github.com/relayops/cascadeguard/pkg/logging"
)

// Handler consumes events from a Bus. Handlers must not call back into the
// publishing breaker or system; publication happens inside its state lock.
type Handler interface {
	Handle(ctx context.Context, event Event) error
	Name() string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Name returns a fixed name for function handlers.
func (f HandlerFunc) Name() string { return "func" }

// Bus fans events out to subscribers. Delivery is synchronous and preserves
// publish order; a panicking or failing handler never affects the publisher
// or the other subscribers.
type Bus struct {
	mutex    sync.RWMutex
	handlers []registration
	nextID   int
	logger   *logging.Logger
}

type registration struct {
	id      int
	handler Handler
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		logger: logging.GetLogger(),
	}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, registration{id: id, handler: handler})

	return func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		for i, reg := range b.handlers {
			if reg.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// SubscribeFunc registers a plain function as a handler.
func (b *Bus) SubscribeFunc(fn func(ctx context.Context, event Event) error) func() {
	return b.Subscribe(HandlerFunc(fn))
}

// Publish delivers the event to every subscriber in registration order.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mutex.RLock()
	handlers := make([]registration, len(b.handlers))
	copy(handlers, b.handlers)
	b.mutex.RUnlock()

	for _, reg := range handlers {
		b.dispatch(ctx, reg.handler, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.LogPanic(ctx, r, "Event handler panicked")
		}
	}()

	if err := handler.Handle(ctx, event); err != nil {
		b.logger.Error("Event handler failed",
			"handler", handler.Name(),
			"event", string(event.Kind()),
			"source", event.Source(),
			"error", err,
		)
	}
}

// HandlerCount returns the number of active subscriptions.
func (b *Bus) HandlerCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.handlers)
}
