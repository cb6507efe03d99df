// Package statemachine provides a generic, stateless transition table.
//
// A Machine is declared once with typed states S, events E and an event
// payload P. Guards inspect the payload so one event can lead to different
// targets:
//
//	m := statemachine.MustNew(
//		statemachine.WithTerminal[Status, Kind, Payload](Closed),
//		statemachine.WithTransition(statemachine.Transition[Status, Kind, Payload]{
//			Event:  Updated,
//			Guards: []statemachine.Guard[Status, Payload]{isPastDue},
//			To:     Suspended,
//		}),
//	)
//	next, err := m.Resolve(current, Updated, payload)
//
// Resolve returns *NoTransitionError, *TerminalStateError or
// *TransitionNotAllowedError when the state cannot change; the current state
// is returned alongside the error.
package statemachine
