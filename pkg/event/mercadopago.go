package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// FlexID decodes ids Mercado Pago sends either as JSON numbers or strings.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// MercadoPagoNotification is the body of a Mercado Pago webhook POST.
type MercadoPagoNotification struct {
	ID          FlexID `json:"id"`
	Type        string `json:"type"`
	Action      string `json:"action"`
	DateCreated string `json:"date_created"`
	LiveMode    bool   `json:"live_mode"`
	Data        struct {
		ID FlexID `json:"id"`
	} `json:"data"`
}

// ParseMercadoPagoNotification decodes a webhook body. It is shared with the
// signature verifier, which signs over data.id.
func ParseMercadoPagoNotification(payload []byte) (MercadoPagoNotification, error) {
	var n MercadoPagoNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, errors.Join(ErrMalformedPayload, err)
	}
	return n, nil
}

// NormalizeMercadoPago converts a notification body into a partial Event.
// Mercado Pago only sends resource ids, so every handled type comes back with
// NeedsEnrichment set.
func NormalizeMercadoPago(payload []byte) (Event, error) {
	n, err := ParseMercadoPagoNotification(payload)
	if err != nil {
		return Event{}, err
	}
	return mercadoPagoEvent(string(n.ID), n.Type, n.Action, string(n.Data.ID), n.DateCreated)
}

// NormalizeMercadoPagoQuery handles the legacy IPN form
// `?topic=payment&id=123`. Legacy notifications carry no event id, so they
// bypass deduplication and rely on enrichment returning current state.
func NormalizeMercadoPagoQuery(q url.Values) (Event, error) {
	topic := q.Get("topic")
	if topic == "" {
		topic = q.Get("type")
	}
	id := q.Get("id")
	if id == "" {
		id = q.Get("data.id")
	}
	return mercadoPagoEvent("", topic, "", id, "")
}

func mercadoPagoEvent(eventID, topic, action, resourceID, created string) (Event, error) {
	ev := Event{
		Provider: ProviderMercadoPago,
		ID:       eventID,
		RawType:  topic,
		Type:     Ignored,
	}
	if action != "" {
		ev.RawType = topic + ":" + action
	}
	if t := parseTime(created); t != nil {
		ev.OccurredAt = *t
	}

	switch topic {
	case "payment":
		ev.Type = PaymentUpdated
		ev.PaymentRef = resourceID
	case "subscription_preapproval", "preapproval":
		ev.Type = SubscriptionUpdated
		if strings.HasSuffix(action, "created") {
			ev.Type = SubscriptionCreated
		}
		ev.SubscriptionRef = resourceID
	case "subscription_authorized_payment", "authorized_payment":
		// Outcome (succeeded or failed) is known only after enrichment.
		ev.Type = InvoicePaymentSucceeded
		ev.PaymentRef = resourceID
	default:
		return ev, nil
	}

	if resourceID == "" {
		return Event{}, ErrMissingResource
	}
	ev.NeedsEnrichment = true
	return ev, nil
}

// MercadoPagoPreapprovalStatus maps a preapproval status. "pending" means the
// payer has not authorized yet, which billing treats as a trial.
func MercadoPagoPreapprovalStatus(s string) Status {
	switch s {
	case "authorized":
		return StatusActive
	case "paused":
		return StatusPastDue
	case "cancelled":
		return StatusCanceled
	case "pending":
		return StatusTrialing
	}
	return Status(s)
}

// MercadoPagoAuthorizedPaymentType maps an authorized payment status to the
// invoice event it represents.
func MercadoPagoAuthorizedPaymentType(paymentStatus string) Type {
	switch paymentStatus {
	case "approved", "authorized", "accredited":
		return InvoicePaymentSucceeded
	case "rejected", "cancelled", "recycling":
		return InvoicePaymentFailed
	}
	return Ignored
}
