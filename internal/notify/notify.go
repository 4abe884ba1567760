// Package notify fans a message out to every configured notification
// channel and subscribes itself to the event bus's "notification" topic.
package notify

import (
	"market_maker/internal/eventbus"
	"market_maker/internal/logging"
	"market_maker/pkg/concurrency"
)

// Sink delivers a single message to one channel (chat webhook, log,
// email, ...). It returns whether the channel accepted the message.
type Sink interface {
	Send(message string) bool
}

// Notifier fans a message out across all configured sinks concurrently,
// bounded by a worker pool, and reports success if any sink accepted it.
type Notifier struct {
	sinks  []Sink
	pool   *concurrency.WorkerPool
	logger logging.Logger
}

// New builds a Notifier over sinks, using a small bounded worker pool
// so the sinks are called concurrently. Notify still waits for every
// sink to answer, so a slow sink delays its caller.
func New(sinks []Sink, logger logging.Logger) *Notifier {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "notify",
		MaxWorkers:  len(sinks) + 1,
		MaxCapacity: 64,
	}, logger)

	return &Notifier{sinks: sinks, pool: pool, logger: logger}
}

// Notify sends message to every sink concurrently and returns true if at
// least one sink accepted it.
func (n *Notifier) Notify(message string) bool {
	if len(n.sinks) == 0 {
		return false
	}

	results := make(chan bool, len(n.sinks))
	for _, sink := range n.sinks {
		sink := sink
		_ = n.pool.Submit(func() {
			results <- sink.Send(message)
		})
	}

	accepted := false
	for range n.sinks {
		if <-results {
			accepted = true
		}
	}
	return accepted
}

// Close stops the underlying worker pool.
func (n *Notifier) Close() {
	n.pool.Stop()
}

// OnNotification subscribes Notify to the bus's notification topic,
// forwarding event.Data's message field.
func (n *Notifier) OnNotification(bus *eventbus.EventBus) {
	bus.Subscribe(eventbus.EventNotification, func(e eventbus.Event) {
		if msg, ok := e.Data.(string); ok {
			n.Notify(msg)
		}
	})
}
