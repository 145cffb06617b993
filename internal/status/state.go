package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/sigstate/internal/bus"
)

// State is the receive loop's runtime state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Receiving    State = "RECEIVING"
	Reconnecting State = "RECONNECTING"
	Stopped      State = "STOPPED"
	Error        State = "ERROR"
)

var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Receiving, Reconnecting, Stopped, Error},
	Receiving:    {Reconnecting, Stopped, Error},
	Reconnecting: {Connecting, Receiving, Stopped, Error},
	Error:        {Connecting, Stopped},
	Stopped:      {Connecting},
}

// Machine tracks and enforces receive loop state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Moving to the current state is a no-op;
// any other move not listed in validTransitions is an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
