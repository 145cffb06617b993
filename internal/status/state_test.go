package status

import (
	"testing"

	"github.com/matheus3301/sigstate/internal/bus"
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
		{[]State{Connecting, Receiving}},
		{[]State{Connecting, Reconnecting, Connecting, Receiving}},
		{[]State{Connecting, Receiving, Reconnecting, Receiving}},
		{[]State{Connecting, Error, Connecting}},
		{[]State{Connecting, Receiving, Stopped, Connecting}},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("path %v: Transition to %s: %v (current: %s)", tt.path, s, err, m.Current())
			}
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Receiving); err == nil {
		t.Error("Transition(IDLE -> RECEIVING) should fail; the loop must connect first")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("receiver.", 10)
	defer unsub()

	m := NewMachine(b)
	_ = m.Transition(Connecting)
	<-ch
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("self transition published %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("receiver.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}
