package statemachine

// Option configures a Machine.
type Option[S, E comparable, P any] func(*Machine[S, E, P]) error

// WithTransition registers t.
func WithTransition[S, E comparable, P any](t Transition[S, E, P]) Option[S, E, P] {
	return func(m *Machine[S, E, P]) error {
		if !t.Stay && isZero(t.To) {
			return ErrInvalidTransition
		}
		m.transitions[t.Event] = append(m.transitions[t.Event], t)
		return nil
	}
}

// WithTerminal marks states as absorbing: Resolve never leaves them.
func WithTerminal[S, E comparable, P any](states ...S) Option[S, E, P] {
	return func(m *Machine[S, E, P]) error {
		for _, s := range states {
			m.terminal[s] = true
		}
		return nil
	}
}

// WithEdges restricts the states reachable from `from`. Once any edge is
// declared every transition must follow a declared edge; self-loops must be
// listed explicitly.
func WithEdges[S, E comparable, P any](from S, to ...S) Option[S, E, P] {
	return func(m *Machine[S, E, P]) error {
		if m.edges == nil {
			m.edges = make(map[S]map[S]bool)
		}
		if m.edges[from] == nil {
			m.edges[from] = make(map[S]bool, len(to))
		}
		for _, s := range to {
			m.edges[from][s] = true
		}
		return nil
	}
}

func isZero[T comparable](v T) bool {
	var zero T
	return v == zero
}
