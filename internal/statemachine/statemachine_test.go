package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameStateTransitionIsNoop(t *testing.T) {
	m := New()
	var called bool
	m.RegisterCallback(Initializing, func() { called = true })

	require.NoError(t, m.TransitionTo(Initializing))
	assert.False(t, called)
	assert.Equal(t, Initializing, m.State())
}

func TestDisallowedTransitionErrors(t *testing.T) {
	m := New()
	require.NoError(t, m.TransitionTo(Running))

	err := m.TransitionTo(Initializing)
	assert.Error(t, err)
	assert.Equal(t, Running, m.State())
}

func TestErrorSelfLoopAllowed(t *testing.T) {
	m := New()
	require.NoError(t, m.TransitionTo(Running))
	require.NoError(t, m.TransitionTo(Error))

	var calls int
	m.RegisterCallback(Error, func() { calls++ })
	require.NoError(t, m.TransitionTo(Running))
	require.NoError(t, m.TransitionTo(Error))
	assert.Equal(t, 1, calls)

	// Error -> Error is accepted and, like any same-state transition,
	// does not re-run the callbacks.
	require.NoError(t, m.TransitionTo(Error))
	assert.Equal(t, Error, m.State())
	assert.Equal(t, 1, calls)
}

func TestShutdownRequestedIsTerminal(t *testing.T) {
	m := New()
	require.NoError(t, m.TransitionTo(Running))
	require.NoError(t, m.TransitionTo(ShutdownRequested))

	assert.Error(t, m.TransitionTo(Running))
	assert.Error(t, m.TransitionTo(Error))
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	m := New()
	var order []int
	m.RegisterCallback(Running, func() { order = append(order, 1) })
	m.RegisterCallback(Running, func() { order = append(order, 2) })

	require.NoError(t, m.TransitionTo(Running))
	assert.Equal(t, []int{1, 2}, order)
}

func TestWaitForShutdownIdempotentWhenAlreadyTerminal(t *testing.T) {
	m := New()
	require.NoError(t, m.TransitionTo(Running))
	require.NoError(t, m.TransitionTo(Error))

	select {
	case <-m.WaitForShutdown():
	default:
		t.Fatal("expected shutdown channel to be closed already")
	}
}

func TestWaitForShutdownFiresOnTransition(t *testing.T) {
	m := New()
	ch := m.WaitForShutdown()

	select {
	case <-ch:
		t.Fatal("shutdown channel closed too early")
	default:
	}

	require.NoError(t, m.TransitionTo(Running))
	require.NoError(t, m.TransitionTo(ShutdownRequested))

	select {
	case <-ch:
	default:
		t.Fatal("expected shutdown channel to be closed after transition")
	}
}

func TestFactSetOnUndeclaredKeyErrors(t *testing.T) {
	m := New()
	assert.Error(t, m.SetFact("ready_to_trade", true))

	m.RegisterFact("ready_to_trade", false)
	assert.NoError(t, m.SetFact("ready_to_trade", true))
	assert.True(t, m.Fact("ready_to_trade"))
}
