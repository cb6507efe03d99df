package statemachine

import "slices"

// Guard reports whether a transition applies to the given payload.
type Guard[S comparable, P any] func(from S, payload P) bool

// Transition maps an event in one of the From states to a target state.
// An empty From matches every state. With Stay set the machine keeps the
// current state instead of moving to To.
type Transition[S, E comparable, P any] struct {
	From   []S
	Event  E
	Guards []Guard[S, P]
	To     S
	Stay   bool
}

func (t Transition[S, E, P]) matches(from S, payload P) bool {
	if len(t.From) > 0 && !slices.Contains(t.From, from) {
		return false
	}
	for _, g := range t.Guards {
		if !g(from, payload) {
			return false
		}
	}
	return true
}

// Machine is an immutable transition table. It holds no current state; the
// caller passes the persisted state to Resolve, which makes one Machine safe
// to share between goroutines and records.
type Machine[S, E comparable, P any] struct {
	transitions map[E][]Transition[S, E, P]
	terminal    map[S]bool
	edges       map[S]map[S]bool
}

// New builds a Machine from options.
func New[S, E comparable, P any](opts ...Option[S, E, P]) (*Machine[S, E, P], error) {
	m := &Machine[S, E, P]{
		transitions: make(map[E][]Transition[S, E, P]),
		terminal:    make(map[S]bool),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New for package-level tables; it panics on a malformed table.
func MustNew[S, E comparable, P any](opts ...Option[S, E, P]) *Machine[S, E, P] {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Resolve returns the state reached from `from` on event. Transitions for the
// event are tried in registration order and the first match wins.
func (m *Machine[S, E, P]) Resolve(from S, event E, payload P) (S, error) {
	if m.terminal[from] {
		return from, &TerminalStateError[S, E]{State: from, Event: event}
	}

	for _, t := range m.transitions[event] {
		if !t.matches(from, payload) {
			continue
		}
		to := t.To
		if t.Stay {
			to = from
		}
		if !m.allowed(from, to) {
			return from, &TransitionNotAllowedError[S]{From: from, To: to}
		}
		return to, nil
	}
	return from, &NoTransitionError[S, E]{State: from, Event: event}
}

// CanTransition reports whether the edge from→to is permitted by the table.
func (m *Machine[S, E, P]) CanTransition(from, to S) bool {
	return !m.terminal[from] && m.allowed(from, to)
}

// IsTerminal reports whether s is absorbing.
func (m *Machine[S, E, P]) IsTerminal(s S) bool {
	return m.terminal[s]
}

func (m *Machine[S, E, P]) allowed(from, to S) bool {
	if m.edges == nil {
		return true
	}
	return m.edges[from][to]
}
