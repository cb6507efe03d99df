package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/event"
)

func TestNormalizePaddle_Subscription(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_id": "evt_01h",
		"event_type": "subscription.updated",
		"occurred_at": "2025-02-01T10:00:00.000000Z",
		"data": {
			"id": "sub_01h",
			"status": "active",
			"customer_id": "ctm_01h",
			"custom_data": {"tenant_id": "t-1"},
			"current_billing_period": {"starts_at": "2025-02-01T00:00:00Z", "ends_at": "2025-03-01T00:00:00Z"},
			"scheduled_change": {"action": "cancel", "effective_at": "2025-03-01T00:00:00Z"},
			"items": [{"price": {"id": "pri_pro"}, "trial_dates": null}]
		}
	}`)

	ev, err := event.NormalizePaddle(payload)
	require.NoError(t, err)
	assert.Equal(t, event.ProviderPaddle, ev.Provider)
	assert.Equal(t, "evt_01h", ev.ID)
	assert.Equal(t, event.SubscriptionUpdated, ev.Type)
	assert.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, "ctm_01h", ev.CustomerRef)
	assert.Equal(t, "sub_01h", ev.SubscriptionRef)
	assert.Equal(t, "t-1", ev.TenantHint)
	assert.Equal(t, "pri_pro", ev.PlanRef)
	assert.Equal(t, event.StatusActive, ev.Status)
	assert.True(t, ev.CancelAtPeriodEnd)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *ev.PeriodEnd)
}

func TestNormalizePaddle_Types(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType string
		data      string
		want      event.Type
	}{
		{"subscription.created", `{"id":"sub_1","status":"trialing","customer_id":"ctm_1"}`, event.SubscriptionCreated},
		{"subscription.canceled", `{"id":"sub_1","status":"canceled","customer_id":"ctm_1"}`, event.SubscriptionDeleted},
		{"subscription.past_due", `{"id":"sub_1","status":"past_due","customer_id":"ctm_1"}`, event.SubscriptionUpdated},
		{"transaction.completed", `{"id":"txn_1","status":"completed","customer_id":"ctm_1","subscription_id":"sub_1"}`, event.InvoicePaymentSucceeded},
		{"transaction.payment_failed", `{"id":"txn_1","status":"past_due","customer_id":"ctm_1","subscription_id":"sub_1"}`, event.InvoicePaymentFailed},
		{"transaction.completed", `{"id":"txn_2","status":"completed","customer_id":"ctm_1"}`, event.Ignored},
		{"address.created", `{}`, event.Ignored},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			t.Parallel()
			body := `{"event_id":"evt","event_type":"` + tt.eventType + `","occurred_at":"2025-02-01T10:00:00Z","data":` + tt.data + `}`
			ev, err := event.NormalizePaddle([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
		})
	}

	_, err := event.NormalizePaddle([]byte(`[]`))
	assert.ErrorIs(t, err, event.ErrMalformedPayload)

	assert.Equal(t, event.StatusPastDue, event.PaddleStatus("paused"))
}
