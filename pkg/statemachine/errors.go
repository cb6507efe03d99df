package statemachine

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid transition: target state is required unless Stay is set")

// NoTransitionError means no registered transition matched the state and event.
type NoTransitionError[S, E comparable] struct {
	State S
	Event E
}

func (e *NoTransitionError[S, E]) Error() string {
	return fmt.Sprintf("no transition available from state '%v' for event '%v'", e.State, e.Event)
}

// TerminalStateError means the current state is absorbing.
type TerminalStateError[S, E comparable] struct {
	State S
	Event E
}

func (e *TerminalStateError[S, E]) Error() string {
	return fmt.Sprintf("state '%v' is terminal, event '%v' ignored", e.State, e.Event)
}

// TransitionNotAllowedError means a transition matched but its edge is not declared.
type TransitionNotAllowedError[S comparable] struct {
	From S
	To   S
}

func (e *TransitionNotAllowedError[S]) Error() string {
	return fmt.Sprintf("transition from '%v' to '%v' is not allowed", e.From, e.To)
}
