package event

import (
	"encoding/json"
	"errors"
	"strings"
)

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type paddleSubscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	CustomData           map[string]any    `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod     `json:"current_billing_period"`
	CanceledAt           string            `json:"canceled_at"`
	ScheduledChange      *paddleScheduled  `json:"scheduled_change"`
	Items                []paddleItem      `json:"items"`
}

type paddleScheduled struct {
	Action      string `json:"action"`
	EffectiveAt string `json:"effective_at"`
}

type paddleItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
	TrialDates *paddlePeriod `json:"trial_dates"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
}

// NormalizePaddle converts a verified Paddle Billing notification into an Event.
func NormalizePaddle(payload []byte) (Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, errors.Join(ErrMalformedPayload, err)
	}

	ev := Event{
		Provider: ProviderPaddle,
		ID:       env.EventID,
		RawType:  env.EventType,
		Type:     Ignored,
	}
	if t := parseTime(env.OccurredAt); t != nil {
		ev.OccurredAt = *t
	}

	switch {
	case strings.HasPrefix(env.EventType, "subscription."):
		var sub paddleSubscription
		if err := json.Unmarshal(env.Data, &sub); err != nil {
			return Event{}, errors.Join(ErrMalformedPayload, err)
		}
		ev.Type = SubscriptionUpdated
		switch env.EventType {
		case "subscription.created":
			ev.Type = SubscriptionCreated
		case "subscription.canceled":
			ev.Type = SubscriptionDeleted
		case "subscription.imported":
			return ev, nil
		}
		fillPaddleSubscription(&ev, sub)
	case env.EventType == "transaction.completed" || env.EventType == "transaction.payment_failed":
		var tx paddleTransaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return Event{}, errors.Join(ErrMalformedPayload, err)
		}
		// One-off checkouts have no subscription and do not move the state machine.
		if tx.SubscriptionID == "" {
			return ev, nil
		}
		ev.Type = InvoicePaymentSucceeded
		if env.EventType == "transaction.payment_failed" {
			ev.Type = InvoicePaymentFailed
		}
		ev.CustomerRef = tx.CustomerID
		ev.SubscriptionRef = tx.SubscriptionID
		ev.TenantHint = customString(tx.CustomData, TenantMetadataKey)
		ev.PaymentRef = tx.ID
		ev.PaymentStatus = tx.Status
	}
	return ev, nil
}

func fillPaddleSubscription(ev *Event, sub paddleSubscription) {
	ev.CustomerRef = sub.CustomerID
	ev.SubscriptionRef = sub.ID
	ev.TenantHint = customString(sub.CustomData, TenantMetadataKey)
	ev.Status = PaddleStatus(sub.Status)
	ev.CanceledAt = parseTime(sub.CanceledAt)
	if sub.CurrentBillingPeriod != nil {
		ev.PeriodStart = parseTime(sub.CurrentBillingPeriod.StartsAt)
		ev.PeriodEnd = parseTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == "cancel" {
		ev.CancelAtPeriodEnd = true
	}
	if len(sub.Items) > 0 {
		ev.PlanRef = sub.Items[0].Price.ID
		if td := sub.Items[0].TrialDates; td != nil {
			ev.TrialEnd = parseTime(td.EndsAt)
		}
	}
}

// PaddleStatus maps a Paddle subscription status.
func PaddleStatus(s string) Status {
	if s == "paused" {
		return StatusPastDue
	}
	return Status(s)
}

func customString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
