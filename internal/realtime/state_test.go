package realtime

import (
	"testing"

	"github.com/matheus3301/chatrelay/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Connecting, Open}},
		{[]State{Connecting, Closed, Connecting, Open}},
		{[]State{Connecting, Open, Closed, Connecting}},
		{[]State{Connecting, Open, Idle}},
		{[]State{Connecting, Closed, Idle}},
		{[]State{Connecting, Idle}},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("path %v: Transition to %s: %v", tt.path, s, err)
			}
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Open); err == nil {
		t.Error("IDLE -> OPEN should fail")
	}
	if err := m.Transition(Closed); err == nil {
		t.Error("IDLE -> CLOSED should fail")
	}
	_ = m.Transition(Connecting)
	_ = m.Transition(Open)
	if err := m.Transition(Connecting); err == nil {
		t.Error("OPEN -> CONNECTING should fail")
	}
	if m.Current() != Open {
		t.Errorf("state = %s, want OPEN (unchanged)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindConnStateChanged)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}
