package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// TenantMetadataKey is the metadata key the service stamps on provider
// customers and subscriptions.
const TenantMetadataKey = "tenant_id"

var stripeTypes = map[string]Type{
	"customer.subscription.created": SubscriptionCreated,
	"customer.subscription.updated": SubscriptionUpdated,
	"customer.subscription.paused":  SubscriptionUpdated,
	"customer.subscription.resumed": SubscriptionUpdated,
	"customer.subscription.deleted": SubscriptionDeleted,
	"invoice.payment_succeeded":     InvoicePaymentSucceeded,
	"invoice.paid":                  InvoicePaymentSucceeded,
	"invoice.payment_failed":        InvoicePaymentFailed,
	"payment_intent.succeeded":      PaymentUpdated,
	"payment_intent.payment_failed": PaymentUpdated,
	"payment_intent.canceled":       PaymentUpdated,
	"payment_intent.processing":     PaymentUpdated,
}

// stripeRef decodes a field that is either an id string or an expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          stripeRef         `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CanceledAt        int64             `json:"canceled_at"`
	EndedAt           int64             `json:"ended_at"`
	TrialEnd          int64             `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
	// Older API versions report the period on the subscription itself.
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID           string    `json:"id"`
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	Status       string    `json:"status"`
	PeriodStart  int64     `json:"period_start"`
	PeriodEnd    int64     `json:"period_end"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type stripePaymentIntent struct {
	ID       string            `json:"id"`
	Customer stripeRef         `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// NormalizeStripe converts a verified Stripe webhook body into an Event.
// Unhandled event types come back as Ignored without error.
func NormalizeStripe(payload []byte) (Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return Event{}, errors.Join(ErrMalformedPayload, err)
	}

	ev := Event{
		Provider:   ProviderStripe,
		ID:         se.ID,
		RawType:    string(se.Type),
		OccurredAt: derefTime(unixTime(se.Created)),
		Type:       Ignored,
	}
	typ, ok := stripeTypes[ev.RawType]
	if !ok {
		return ev, nil
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: stripe event %s has no data object", ErrMalformedPayload, se.ID)
	}
	ev.Type = typ

	switch typ {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionDeleted:
		var sub stripeSubscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return Event{}, errors.Join(ErrMalformedPayload, err)
		}
		fillStripeSubscription(&ev, sub)
	case InvoicePaymentSucceeded, InvoicePaymentFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return Event{}, errors.Join(ErrMalformedPayload, err)
		}
		ev.CustomerRef = string(inv.Customer)
		ev.SubscriptionRef = string(inv.Subscription)
		if ev.SubscriptionRef == "" {
			ev.SubscriptionRef = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		ev.TenantHint = inv.Parent.SubscriptionDetails.Metadata[TenantMetadataKey]
		ev.PaymentRef = inv.ID
		ev.PaymentStatus = inv.Status
	case PaymentUpdated:
		var pi stripePaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return Event{}, errors.Join(ErrMalformedPayload, err)
		}
		ev.CustomerRef = string(pi.Customer)
		ev.TenantHint = pi.Metadata[TenantMetadataKey]
		ev.PaymentRef = pi.ID
		ev.PaymentStatus = pi.Status
	}
	return ev, nil
}

func fillStripeSubscription(ev *Event, sub stripeSubscription) {
	ev.CustomerRef = string(sub.Customer)
	ev.SubscriptionRef = sub.ID
	ev.TenantHint = sub.Metadata[TenantMetadataKey]
	ev.Status = StripeStatus(sub.Status)
	ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	ev.TrialEnd = unixTime(sub.TrialEnd)
	ev.CanceledAt = unixTime(sub.CanceledAt)
	if ev.CanceledAt == nil {
		ev.CanceledAt = unixTime(sub.EndedAt)
	}

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
		ev.PlanRef = item.Price.LookupKey
		if ev.PlanRef == "" {
			ev.PlanRef = item.Price.ID
		}
	}
	ev.PeriodStart = unixTime(start)
	ev.PeriodEnd = unixTime(end)
}

// StripeStatus maps a Stripe subscription status. A paused subscription has
// stopped collecting and is treated as past due.
func StripeStatus(s string) Status {
	switch s {
	case "paused":
		return StatusPastDue
	case "incomplete_expired":
		return StatusCanceled
	}
	return Status(s)
}

func derefTime[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
