package subscription_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/statemachine"
	"github.com/imobcloud/billing/pkg/subscription"
)

func TestNextStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    subscription.Status
		ev      event.Event
		want    subscription.Status
		wantErr bool
	}{
		{"created trialing", subscription.StatusTrial, event.Event{Type: event.SubscriptionCreated, Status: event.StatusTrialing}, subscription.StatusTrial, false},
		{"created active", subscription.StatusTrial, event.Event{Type: event.SubscriptionCreated, Status: event.StatusActive}, subscription.StatusActive, false},
		{"created incomplete stays", subscription.StatusTrial, event.Event{Type: event.SubscriptionCreated, Status: event.StatusIncomplete}, subscription.StatusTrial, false},
		{"updated past_due suspends", subscription.StatusActive, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusPastDue}, subscription.StatusSuspended, false},
		{"updated unpaid suspends", subscription.StatusActive, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusUnpaid}, subscription.StatusSuspended, false},
		{"updated active reactivates", subscription.StatusSuspended, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusActive}, subscription.StatusActive, false},
		{"updated canceled", subscription.StatusActive, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusCanceled}, subscription.StatusCancelled, false},
		{"cancel at period end", subscription.StatusActive, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusActive, CancelAtPeriodEnd: true}, subscription.StatusCancelled, false},
		{"updated incomplete stays", subscription.StatusSuspended, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusIncomplete}, subscription.StatusSuspended, false},
		{"deleted cancels", subscription.StatusSuspended, event.Event{Type: event.SubscriptionDeleted}, subscription.StatusCancelled, false},
		{"payment failed suspends", subscription.StatusActive, event.Event{Type: event.InvoicePaymentFailed}, subscription.StatusSuspended, false},
		{"payment succeeded keeps status", subscription.StatusSuspended, event.Event{Type: event.InvoicePaymentSucceeded}, subscription.StatusSuspended, false},
		{"active cannot go back to trial", subscription.StatusActive, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusTrialing}, subscription.StatusActive, true},
		{"cancelled is absorbing", subscription.StatusCancelled, event.Event{Type: event.SubscriptionUpdated, Status: event.StatusActive}, subscription.StatusCancelled, true},
		{"payment events do not apply", subscription.StatusActive, event.Event{Type: event.PaymentUpdated}, subscription.StatusActive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := subscription.NextStatus(tt.from, tt.ev)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStatusErrors(t *testing.T) {
	t.Parallel()

	t.Run("terminal", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.NextStatus(subscription.StatusCancelled, event.Event{Type: event.SubscriptionDeleted})
		var target *statemachine.TerminalStateError[subscription.Status, event.Type]
		assert.True(t, errors.As(err, &target))
	})

	t.Run("edge not allowed", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.NextStatus(subscription.StatusSuspended, event.Event{Type: event.SubscriptionCreated, Status: event.StatusTrialing})
		var target *statemachine.TransitionNotAllowedError[subscription.Status]
		require.True(t, errors.As(err, &target))
		assert.Equal(t, subscription.StatusTrial, target.To)
	})
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, subscription.CanTransition(subscription.StatusTrial, subscription.StatusActive))
	assert.True(t, subscription.CanTransition(subscription.StatusSuspended, subscription.StatusActive))
	assert.False(t, subscription.CanTransition(subscription.StatusActive, subscription.StatusTrial))
	assert.False(t, subscription.CanTransition(subscription.StatusCancelled, subscription.StatusActive))
}
