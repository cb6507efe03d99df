package billing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/imobcloud/billing/pkg/alert"
	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/pkg/webhook"
)

const opWebhook = "webhook"

// Webhook outcomes, used as the metrics label and in WebhookResult.
const (
	WebhookApplied        = "applied"
	WebhookUnchanged      = "unchanged"
	WebhookDuplicate      = "duplicate"
	WebhookIgnored        = "ignored"
	WebhookStale          = "stale"
	WebhookPaymentUpdated = "payment_updated"
	WebhookUnauthorized   = "unauthorized"
	WebhookRejected       = "rejected"
	WebhookMalformed      = "malformed"
	WebhookUnresolved     = "unresolved"
	WebhookFailed         = "failed"
	WebhookUnknown        = "unknown_provider"
)

// WebhookSource is the inbound pipeline of one provider.
type WebhookSource struct {
	Provider  event.Provider
	Verify    func(headers http.Header, query url.Values, body []byte) (bool, error)
	Normalize func(body []byte, query url.Values) (event.Event, error)
	// Enricher completes events that carry only resource ids.
	Enricher payment.Enricher
	// RejectUnauthenticated answers 401 to a failed signature check.
	// Otherwise the delivery is acknowledged and reported.
	RejectUnauthenticated bool
}

// StripeSource verifies Stripe-Signature and rejects forgeries with 401.
func StripeSource(v webhook.Verifier) WebhookSource {
	return WebhookSource{
		Provider:              event.ProviderStripe,
		Verify:                headerOnly(v),
		Normalize:             bodyOnly(event.NormalizeStripe),
		RejectUnauthenticated: true,
	}
}

// PaddleSource verifies Paddle-Signature and rejects forgeries with 401.
func PaddleSource(v webhook.Verifier) WebhookSource {
	return WebhookSource{
		Provider:              event.ProviderPaddle,
		Verify:                headerOnly(v),
		Normalize:             bodyOnly(event.NormalizePaddle),
		RejectUnauthenticated: true,
	}
}

// MercadoPagoSource accepts both JSON notifications and the legacy
// ?topic=&id= form. enricher may be nil, in which case events needing
// enrichment fail and are reported.
func MercadoPagoSource(v *webhook.MercadoPagoVerifier, enricher payment.Enricher) WebhookSource {
	return WebhookSource{
		Provider: event.ProviderMercadoPago,
		Verify:   v.VerifyRequest,
		Normalize: func(body []byte, query url.Values) (event.Event, error) {
			if len(bytes.TrimSpace(body)) == 0 {
				return event.NormalizeMercadoPagoQuery(query)
			}
			return event.NormalizeMercadoPago(body)
		},
		Enricher: enricher,
	}
}

func headerOnly(v webhook.Verifier) func(http.Header, url.Values, []byte) (bool, error) {
	return func(h http.Header, _ url.Values, body []byte) (bool, error) {
		return v.Verify(h, body)
	}
}

func bodyOnly(fn func([]byte) (event.Event, error)) func([]byte, url.Values) (event.Event, error) {
	return func(body []byte, _ url.Values) (event.Event, error) {
		return fn(body)
	}
}

// WebhookRequest is a raw delivery. Body must be the exact bytes received.
type WebhookRequest struct {
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// WebhookResult tells the HTTP layer how to answer. StatusCode is 200 for
// everything except unauthenticated deliveries of providers that reject
// them and unknown providers. Err is the failure that was reported, if any.
type WebhookResult struct {
	StatusCode int
	Outcome    string
	EventID    string
	EventType  event.Type
	TenantID   uuid.UUID
	Err        error
}

// HandleWebhook verifies, normalizes, enriches and applies one delivery.
// Processing failures are reported and acknowledged so providers do not
// redeliver into the same failure.
func (s *Service) HandleWebhook(ctx context.Context, provider event.Provider, req WebhookRequest) (res WebhookResult) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveWebhook(string(provider), res.Outcome, s.now().Sub(start))
		}
	}()

	src, ok := s.sources[provider]
	if !ok {
		return WebhookResult{StatusCode: http.StatusNotFound, Outcome: WebhookUnknown, Err: ErrUnknownProvider}
	}
	log := s.logger.With(logger.Provider(string(provider)))

	if _, err := src.Verify(req.Headers, req.Query, req.Body); err != nil {
		if src.RejectUnauthenticated {
			log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
			return WebhookResult{StatusCode: http.StatusUnauthorized, Outcome: WebhookUnauthorized, Err: err}
		}
		return s.fail(ctx, provider, event.Event{}, WebhookRejected, err)
	}

	ev, err := src.Normalize(req.Body, req.Query)
	if err != nil {
		return s.fail(ctx, provider, event.Event{}, WebhookMalformed, err)
	}
	if ev.Type == event.Ignored {
		log.DebugContext(ctx, "webhook ignored", logger.EventID(ev.ID), logger.EventType(ev.RawType))
		return s.ack(ev, WebhookIgnored, uuid.Nil)
	}

	if ev.NeedsEnrichment {
		if src.Enricher == nil {
			return s.fail(ctx, provider, ev, WebhookFailed, errors.New("billing: event needs enrichment but provider has no enricher"))
		}
		enriched, err := src.Enricher.Enrich(ctx, ev)
		s.observeCall(ctx, string(provider), payment.OpEnrichEvent, err)
		if err != nil {
			return s.fail(ctx, provider, ev, WebhookFailed, err)
		}
		ev = enriched
	}

	if ev.Type == event.PaymentUpdated {
		return s.applyPaymentEvent(ctx, ev)
	}

	out, err := s.subs.Apply(ctx, ev)
	if err != nil {
		var tre *subscription.TenantResolutionError
		if errors.As(err, &tre) {
			return s.fail(ctx, provider, ev, WebhookUnresolved, err)
		}
		return s.fail(ctx, provider, ev, WebhookFailed, err)
	}
	return s.ack(ev, string(out.Outcome), out.TenantID)
}

func (s *Service) applyPaymentEvent(ctx context.Context, ev event.Event) WebhookResult {
	provider := string(ev.Provider)
	defer s.lockPayment(provider, ev.PaymentRef)()

	p, err := s.payments.FindPayment(ctx, provider, ev.PaymentRef)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		s.logger.InfoContext(ctx, "webhook for unknown payment",
			logger.Provider(provider),
			logger.PaymentID(ev.PaymentRef),
			logger.EventID(ev.ID),
		)
		return s.ack(ev, WebhookIgnored, uuid.Nil)
	case err != nil:
		return s.fail(ctx, ev.Provider, ev, WebhookFailed, err)
	}

	if ev.PaymentStatus == "" {
		if p, err = s.refresh(ctx, p); err != nil {
			return s.fail(ctx, ev.Provider, ev, WebhookFailed, err)
		}
		return s.ack(ev, WebhookPaymentUpdated, p.TenantID)
	}
	if p.Status == ev.PaymentStatus {
		return s.ack(ev, WebhookUnchanged, p.TenantID)
	}
	if payment.TerminalPaymentStatus(p.Status) && !payment.TerminalPaymentStatus(ev.PaymentStatus) {
		s.logger.InfoContext(ctx, "payment is final, ignoring status",
			logger.TenantID(p.TenantID),
			logger.Provider(provider),
			logger.PaymentID(p.ExternalID),
			slog.String("status", p.Status),
			slog.String("incoming", ev.PaymentStatus),
		)
		return s.ack(ev, WebhookUnchanged, p.TenantID)
	}
	if !ev.OccurredAt.IsZero() && p.LastEventAt != nil && ev.OccurredAt.Before(*p.LastEventAt) {
		s.logger.InfoContext(ctx, "stale payment event",
			logger.TenantID(p.TenantID),
			logger.Provider(provider),
			logger.PaymentID(p.ExternalID),
			logger.EventID(ev.ID),
		)
		return s.ack(ev, WebhookStale, p.TenantID)
	}

	from := p.Status
	p.Status = ev.PaymentStatus
	p.UpdatedAt = s.now().UTC()
	if !ev.OccurredAt.IsZero() {
		at := ev.OccurredAt.UTC()
		p.LastEventAt = &at
	}
	if ev.PaymentStatus == "approved" || ev.PaymentStatus == "succeeded" {
		at := p.UpdatedAt
		if !ev.OccurredAt.IsZero() {
			at = ev.OccurredAt.UTC()
		}
		p.ApprovedAt = &at
	}
	if err := s.payments.SavePayment(ctx, p); err != nil {
		return s.fail(ctx, ev.Provider, ev, WebhookFailed, err)
	}
	s.logger.InfoContext(ctx, "payment status updated",
		logger.TenantID(p.TenantID),
		logger.Provider(provider),
		logger.PaymentID(p.ExternalID),
		slog.String("from", from),
		slog.String("to", p.Status),
	)
	return s.ack(ev, WebhookPaymentUpdated, p.TenantID)
}

func (s *Service) ack(ev event.Event, outcome string, tenantID uuid.UUID) WebhookResult {
	return WebhookResult{
		StatusCode: http.StatusOK,
		Outcome:    outcome,
		EventID:    ev.ID,
		EventType:  ev.Type,
		TenantID:   tenantID,
	}
}

// fail reports err and acknowledges the delivery.
func (s *Service) fail(ctx context.Context, provider event.Provider, ev event.Event, outcome string, err error) WebhookResult {
	inc := alert.Incident{
		Provider:  string(provider),
		Operation: opWebhook,
		EventID:   ev.ID,
		TenantID:  ev.TenantHint,
		Err:       err,
		Fields: map[string]string{
			"outcome":  outcome,
			"raw_type": ev.RawType,
		},
		At: s.now().UTC(),
	}
	var tre *subscription.TenantResolutionError
	if errors.As(err, &tre) {
		inc.Fields["customer_ref"] = tre.CustomerRef
		inc.Fields["subscription_ref"] = tre.SubscriptionRef
	}
	if oe, ok := payment.AsOperationError(err); ok && oe.StatusDetail != "" {
		inc.Fields["status_detail"] = oe.StatusDetail
	}
	// The report outlives the request.
	s.reporter.Report(context.WithoutCancel(ctx), inc)

	res := s.ack(ev, outcome, uuid.Nil)
	res.Err = err
	return res
}

// UnsignedHook escalates Mercado Pago deliveries accepted without a signing
// secret. At most one incident is reported per interval; the deliveries
// accepted in between are counted in the next one. Pass it to
// webhook.WithUnsignedHook.
func UnsignedHook(r alert.Reporter, interval time.Duration) func() {
	var (
		last       atomic.Int64
		suppressed atomic.Int64
	)
	return func() {
		now := time.Now()
		prev := last.Load()
		if prev != 0 && now.Sub(time.Unix(0, prev)) < interval {
			suppressed.Add(1)
			return
		}
		if !last.CompareAndSwap(prev, now.UnixNano()) {
			suppressed.Add(1)
			return
		}
		r.Report(context.Background(), alert.Incident{
			Provider:  string(event.ProviderMercadoPago),
			Operation: opWebhook,
			Err:       webhook.ErrMissingSecret,
			Fields: map[string]string{
				"outcome":    "accepted_unsigned",
				"suppressed": strconv.FormatInt(suppressed.Swap(0), 10),
			},
			At: now.UTC(),
		})
	}
}
