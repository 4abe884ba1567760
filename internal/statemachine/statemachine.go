// Package statemachine implements the lifecycle states of the grid
// engine: guarded transitions, per-target-state callbacks, a fact map
// for small cross-component flags, and a single-shot shutdown waiter.
package statemachine

import (
	"fmt"
	"sync"
)

// State is one lifecycle state of the engine.
type State int

const (
	Initializing State = iota
	Running
	ShutdownRequested
	Error
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	case ShutdownRequested:
		return "SHUTDOWN_REQUESTED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Callback runs synchronously, in registration order, when the machine
// transitions into the state it was registered against.
type Callback func()

// StateMachine guards the engine's lifecycle transitions.
type StateMachine struct {
	mu          sync.Mutex
	state       State
	transitions map[State][]State
	callbacks   map[State][]Callback
	facts       map[string]bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	closeOnce    sync.Once
}

// New returns a StateMachine in Initializing, with no facts registered.
func New() *StateMachine {
	return &StateMachine{
		state: Initializing,
		transitions: map[State][]State{
			Initializing:      {Running, ShutdownRequested, Error},
			Running:           {Error, ShutdownRequested},
			Error:             {Running, ShutdownRequested, Error},
			ShutdownRequested: {},
		},
		callbacks:  make(map[State][]Callback),
		facts:      make(map[string]bool),
		shutdownCh: make(chan struct{}),
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransitionTo attempts to move to newState. A transition to the
// current state is a no-op. Any other disallowed transition is a
// programming error, returned so the caller can decide how to fail.
func (m *StateMachine) TransitionTo(newState State) error {
	m.mu.Lock()
	if newState == m.state {
		m.mu.Unlock()
		return nil
	}

	allowed := false
	for _, s := range m.transitions[m.state] {
		if s == newState {
			allowed = true
			break
		}
	}
	if !allowed {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: invalid state transition from %s to %s", errInvalidTransition, from, newState)
	}

	m.state = newState
	callbacks := append([]Callback(nil), m.callbacks[newState]...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return nil
}

// RegisterCallback arranges for cb to run every time the machine
// transitions into toState, after the transition has taken effect.
func (m *StateMachine) RegisterCallback(toState State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[toState] = append(m.callbacks[toState], cb)
}

// RegisterFact declares a fact key with its initial value. SetFact on
// an undeclared key is an error, mirroring the discipline that facts
// are declared up front rather than created ad hoc.
func (m *StateMachine) RegisterFact(key string, initial bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[key] = initial
}

// SetFact updates a previously registered fact.
func (m *StateMachine) SetFact(key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facts[key]; !ok {
		return fmt.Errorf("fact %q does not exist in the state machine", key)
	}
	m.facts[key] = value
	return nil
}

// Fact reads a previously registered fact; false if never registered.
func (m *StateMachine) Fact(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facts[key]
}

// WaitForShutdown returns a channel that is closed once the state becomes
// ShutdownRequested or Error. Idempotent: if already terminal when
// called, the returned channel is already closed. Safe to call from
// multiple goroutines.
func (m *StateMachine) WaitForShutdown() <-chan struct{} {
	closeShutdownCh := func() { m.closeOnce.Do(func() { close(m.shutdownCh) }) }

	m.shutdownOnce.Do(func() {
		m.RegisterCallback(ShutdownRequested, closeShutdownCh)
		m.RegisterCallback(Error, closeShutdownCh)
		if s := m.State(); s == ShutdownRequested || s == Error {
			closeShutdownCh()
		}
	})
	return m.shutdownCh
}

var errInvalidTransition = fmt.Errorf("invalid transition")
