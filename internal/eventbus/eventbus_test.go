package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []int

	bus.Subscribe(EventTickerUpdate, func(Event) { order = append(order, 1) })
	bus.Subscribe(EventTickerUpdate, func(Event) { order = append(order, 2) })
	bus.Subscribe(EventTickerUpdate, func(Event) { order = append(order, 3) })

	bus.Publish(Event{Type: EventTickerUpdate})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	bus := New()
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: EventOrderFilled})
	})
}

func TestPublishOnlyInvokesHandlersForMatchingType(t *testing.T) {
	bus := New()
	var tickerCalls, fillCalls int

	bus.Subscribe(EventTickerUpdate, func(Event) { tickerCalls++ })
	bus.Subscribe(EventOrderFilled, func(Event) { fillCalls++ })

	bus.Publish(Event{Type: EventTickerUpdate})

	assert.Equal(t, 1, tickerCalls)
	assert.Equal(t, 0, fillCalls)
}
