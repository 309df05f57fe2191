package connstate

import (
	"errors"
	"testing"
)

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine()
	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   State
	}{
		{"dial", []Event{EventDial}, Connecting},
		{"open", []Event{EventDial, EventOpen}, Connected},
		{"drop", []Event{EventDial, EventOpen, EventRetry}, Reconnecting},
		{"redial", []Event{EventDial, EventOpen, EventRetry, EventDial}, Connecting},
		{"dial failure", []Event{EventDial, EventRetry}, Reconnecting},
		{"close while connected", []Event{EventDial, EventOpen, EventHalt}, Disconnected},
		{"give up while reconnecting", []Event{EventDial, EventRetry, EventHalt}, Disconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tt.events {
				if _, err := m.Fire(ev); err != nil {
					t.Fatalf("fire %s: %v", ev, err)
				}
			}
			if m.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, m.State())
			}
		})
	}
}

func TestMachine_RejectsDirectOpen(t *testing.T) {
	m := NewMachine()
	_, err := m.Fire(EventOpen)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != Disconnected {
		t.Errorf("state should be unchanged, got %s", m.State())
	}
}

func TestMachine_RejectsHaltWhenDisconnected(t *testing.T) {
	m := NewMachine()
	if m.Can(EventHalt) {
		t.Error("halt should not be allowed from disconnected")
	}
	if _, err := m.Fire(EventHalt); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMachine_ListenersNotifiedSynchronously(t *testing.T) {
	m := NewMachine()
	var got []StateEvent
	m.Subscribe(func(ev StateEvent) {
		got = append(got, ev)
	})

	ev, err := m.Fire(EventDial)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listener should have run before Fire returned, got %d events", len(got))
	}
	if got[0] != ev {
		t.Errorf("expected %+v, got %+v", ev, got[0])
	}
	if got[0].From != Disconnected || got[0].To != Connecting {
		t.Errorf("unexpected event %+v", got[0])
	}
}

func TestMachine_Unsubscribe(t *testing.T) {
	m := NewMachine()
	var first, second int
	unsub := m.Subscribe(func(StateEvent) { first++ })
	m.Subscribe(func(StateEvent) { second++ })

	m.Fire(EventDial)
	unsub()
	m.Fire(EventOpen)

	if first != 1 {
		t.Errorf("expected first listener called once, got %d", first)
	}
	if second != 2 {
		t.Errorf("expected second listener called twice, got %d", second)
	}
}

func TestState_String(t *testing.T) {
	for _, s := range []State{Disconnected, Connecting, Connected, Reconnecting} {
		if parseState(s.String()) != s {
			t.Errorf("round trip failed for %s", s)
		}
	}
	if State(42).String() != "unknown" {
		t.Errorf("expected unknown, got %s", State(42).String())
	}
}
