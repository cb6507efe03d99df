package subscription

import (
	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/statemachine"
)

type (
	transition = statemachine.Transition[Status, event.Type, event.Event]
	guard      = statemachine.Guard[Status, event.Event]
)

func providerStatus(statuses ...event.Status) guard {
	return func(_ Status, ev event.Event) bool {
		for _, s := range statuses {
			if ev.Status == s {
				return true
			}
		}
		return false
	}
}

func cancelScheduled(_ Status, ev event.Event) bool { return ev.CancelAtPeriodEnd }

// machine maps normalized events onto status changes. Order matters: the
// first matching transition for an event wins.
var machine = statemachine.MustNew(
	// subscription.created
	statemachine.WithTransition(transition{Event: event.SubscriptionCreated, Guards: []guard{providerStatus(event.StatusTrialing)}, To: StatusTrial}),
	statemachine.WithTransition(transition{Event: event.SubscriptionCreated, Guards: []guard{providerStatus(event.StatusIncomplete)}, Stay: true}),
	statemachine.WithTransition(transition{Event: event.SubscriptionCreated, To: StatusActive}),

	// subscription.updated
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Guards: []guard{providerStatus(event.StatusCanceled)}, To: StatusCancelled}),
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Guards: []guard{cancelScheduled}, To: StatusCancelled}),
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Guards: []guard{providerStatus(event.StatusPastDue, event.StatusUnpaid)}, To: StatusSuspended}),
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Guards: []guard{providerStatus(event.StatusTrialing)}, To: StatusTrial}),
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Guards: []guard{providerStatus(event.StatusActive)}, To: StatusActive}),
	statemachine.WithTransition(transition{Event: event.SubscriptionUpdated, Stay: true}),

	statemachine.WithTransition(transition{Event: event.SubscriptionDeleted, To: StatusCancelled}),
	statemachine.WithTransition(transition{Event: event.InvoicePaymentFailed, To: StatusSuspended}),
	statemachine.WithTransition(transition{Event: event.InvoicePaymentSucceeded, Stay: true}),

	statemachine.WithEdges[Status, event.Type, event.Event](StatusTrial, StatusTrial, StatusActive, StatusSuspended, StatusCancelled),
	statemachine.WithEdges[Status, event.Type, event.Event](StatusActive, StatusActive, StatusSuspended, StatusCancelled),
	statemachine.WithEdges[Status, event.Type, event.Event](StatusSuspended, StatusActive, StatusSuspended, StatusCancelled),
	statemachine.WithTerminal[Status, event.Type, event.Event](StatusCancelled),
)

// NextStatus returns the status a subscription in `current` moves to on ev.
// The error is one of the statemachine errors when ev does not apply:
// *statemachine.TerminalStateError for cancelled subscriptions,
// *statemachine.TransitionNotAllowedError for a disallowed edge and
// *statemachine.NoTransitionError for event types outside the table.
func NextStatus(current Status, ev event.Event) (Status, error) {
	return machine.Resolve(current, ev.Type, ev)
}

// CanTransition reports whether the lifecycle permits from→to.
func CanTransition(from, to Status) bool {
	return machine.CanTransition(from, to)
}
