package connstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type Event string

const (
	EventDial  Event = "dial"
	EventOpen  Event = "open"
	EventRetry Event = "retry"
	EventHalt  Event = "halt"
)

type Listener func(StateEvent)

type subscription struct {
	id int
	fn Listener
}

// Machine is the connection lifecycle. Listeners run synchronously inside
// Fire, in subscription order.
type Machine struct {
	fsm *fsm.FSM

	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

func NewMachine() *Machine {
	m := &Machine{}
	m.fsm = fsm.NewFSM(
		Disconnected.String(),
		fsm.Events{
			{Name: string(EventDial), Src: []string{Disconnected.String(), Reconnecting.String()}, Dst: Connecting.String()},
			{Name: string(EventOpen), Src: []string{Connecting.String()}, Dst: Connected.String()},
			{Name: string(EventRetry), Src: []string{Connecting.String(), Connected.String()}, Dst: Reconnecting.String()},
			{Name: string(EventHalt), Src: []string{Connecting.String(), Connected.String(), Reconnecting.String()}, Dst: Disconnected.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.notify(StateEvent{From: parseState(e.Src), To: parseState(e.Dst)})
			},
		},
	)
	return m
}

func (m *Machine) State() State {
	return parseState(m.fsm.Current())
}

func (m *Machine) Can(ev Event) bool {
	return m.fsm.Can(string(ev))
}

func (m *Machine) Fire(ev Event) (StateEvent, error) {
	from := m.State()
	if !m.fsm.Can(string(ev)) {
		return StateEvent{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
	}
	if err := m.fsm.Event(context.Background(), string(ev)); err != nil {
		return StateEvent{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return StateEvent{From: from, To: m.State()}, nil
}

func (m *Machine) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Machine) notify(ev StateEvent) {
	m.mu.Lock()
	subs := make([]subscription, len(m.listeners))
	copy(subs, m.listeners)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
