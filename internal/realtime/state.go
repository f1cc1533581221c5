package realtime

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatrelay/internal/bus"
)

// State is the connection lifecycle state.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	// Closed always has a reconnect scheduled; Disconnect returns to Idle instead.
	Closed State = "CLOSED"
)

var validTransitions = map[State][]State{
	Idle:       {Connecting},
	Connecting: {Open, Closed, Idle},
	Open:       {Closed, Idle},
	Closed:     {Connecting, Idle},
}

// Machine tracks and enforces connection state transitions and announces
// each one on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state or returns an error if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindConnStateChanged, StateChange{From: from, To: to}))
	return nil
}

// StateChange is the payload of conn.state_changed events.
type StateChange struct {
	From State
	To   State
}
