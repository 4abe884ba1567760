// Package eventbus is a minimal in-process typed publisher. Handlers for
// a given event type run synchronously, in subscription order, on the
// publisher's goroutine; the bus itself never catches a handler panic
// or error — that is the caller's responsibility.
package eventbus

import "sync"

// EventType names one of the event kinds the engine and strategy
// exchange over the bus.
type EventType string

const (
	EventOnMessage         EventType = "on_message"
	EventTickerUpdate      EventType = "ticker_update"
	EventOrderPlaced       EventType = "order_placed"
	EventOrderFilled       EventType = "order_filled"
	EventOrderCancelled    EventType = "order_cancelled"
	EventPrepareForTrading EventType = "prepare_for_trading"
	EventNotification      EventType = "notification"
)

// Event is the envelope published on the bus. Data is handler-defined;
// handlers type-assert it to the shape they expect for their EventType.
type Event struct {
	Type EventType
	Data any
}

// Handler processes one published event.
type Handler func(Event)

// EventBus fans out published events to subscribed handlers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// New returns an empty EventBus.
func New() *EventBus {
	return &EventBus{subscribers: make(map[EventType][]Handler)}
}

// Subscribe registers handler to run, in order, whenever an event of
// the given type is published.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler subscribed to event.Type, in registration
// order, on the calling goroutine. A no-op if there are no subscribers.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.subscribers[event.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
