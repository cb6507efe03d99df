package event

import (
	"errors"
	"time"
)

// Type is the canonical billing event kind.
type Type string

const (
	SubscriptionCreated     Type = "subscription.created"
	SubscriptionUpdated     Type = "subscription.updated"
	SubscriptionDeleted     Type = "subscription.deleted"
	InvoicePaymentSucceeded Type = "invoice.payment_succeeded"
	InvoicePaymentFailed    Type = "invoice.payment_failed"
	PaymentUpdated          Type = "payment.updated"
	Ignored                 Type = "ignored"
)

// AffectsSubscription reports whether events of this type drive the
// subscription state machine.
func (t Type) AffectsSubscription() bool {
	switch t {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionDeleted,
		InvoicePaymentSucceeded, InvoicePaymentFailed:
		return true
	}
	return false
}

// Provider identifies the payment provider an event came from.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderMercadoPago Provider = "mercadopago"
	ProviderPaddle      Provider = "paddle"
)

// Status is the provider subscription status, normalized to one vocabulary.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Event is a provider webhook reduced to the fields billing acts on.
type Event struct {
	Provider   Provider
	ID         string // provider event id, empty when the provider sends none
	Type       Type
	RawType    string
	OccurredAt time.Time

	CustomerRef     string
	SubscriptionRef string
	TenantHint      string // tenant id echoed back through provider metadata
	PlanRef         string

	Status            Status
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
	CanceledAt        *time.Time

	PaymentRef    string
	PaymentStatus string

	// NeedsEnrichment is set when the notification carries only a resource
	// id and the state must be fetched from the provider API.
	NeedsEnrichment bool
}

var (
	ErrMalformedPayload = errors.New("event: malformed payload")
	ErrMissingResource  = errors.New("event: notification has no resource id")
)

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
