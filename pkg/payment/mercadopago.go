package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/invoice"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	mppayment "github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
	"github.com/shopspring/decimal"

	"github.com/imobcloud/billing/pkg/event"
)

const mercadoPagoName = string(event.ProviderMercadoPago)

// MercadoPagoProvider is the one-off provider (Provider B) for PIX, boleto
// and card payments. It also manages preapproval subscriptions.
type MercadoPagoProvider struct {
	notificationURL string
	payments        mppayment.Client
	preapprovals    preapproval.Client
	invoices        invoice.Client
}

type MercadoPagoOption func(*mpRequester)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) MercadoPagoOption {
	return func(r *mpRequester) {
		if c != nil {
			r.client = c
		}
	}
}

func NewMercadoPagoProvider(cfg MercadoPagoConfig, opts ...MercadoPagoOption) (*MercadoPagoProvider, error) {
	if cfg.AccessToken == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("MP_ACCESS_TOKEN is empty"))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := &mpRequester{client: &http.Client{Timeout: timeout}}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("payment: invalid MP_BASE_URL %q", cfg.BaseURL)
		}
		r.base = base
	}
	for _, opt := range opts {
		opt(r)
	}

	sdk, err := config.New(cfg.AccessToken, config.WithHTTPClient(r))
	if err != nil {
		return nil, err
	}
	return &MercadoPagoProvider{
		notificationURL: cfg.NotificationURL,
		payments:        mppayment.NewClient(sdk),
		preapprovals:    preapproval.NewClient(sdk),
		invoices:        invoice.NewClient(sdk),
	}, nil
}

func (p *MercadoPagoProvider) Name() string { return mercadoPagoName }

type idempotencyKeyCtx struct{}

// mpRequester sends SDK requests as a single attempt. It points them at the
// configured base URL and replaces the SDK's random X-Idempotency-Key with
// the caller's key.
type mpRequester struct {
	client *http.Client
	base   *url.URL
}

func (r *mpRequester) Do(req *http.Request) (*http.Response, error) {
	if r.base != nil {
		req.URL.Scheme = r.base.Scheme
		req.URL.Host = r.base.Host
		req.URL.Path = r.base.Path + req.URL.Path
		req.Host = ""
	}
	if key, ok := req.Context().Value(idempotencyKeyCtx{}).(string); ok && key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}
	return r.client.Do(req)
}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func (p *MercadoPagoProvider) CreateOneOffPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(mercadoPagoName, OpCreateOneOffPayment, ErrValidation, err)
	}
	if req.Currency != "BRL" {
		return nil, newError(mercadoPagoName, OpCreateOneOffPayment, ErrValidation, fmt.Errorf("currency %s is not supported", req.Currency))
	}

	taxType := req.Payer.TaxIDType()
	body := mppayment.Request{
		TransactionAmount: req.Amount.Round(2).InexactFloat64(),
		Description:       req.Description,
		ExternalReference: req.TenantID,
		NotificationURL:   p.notificationURL,
		DateOfExpiration:  req.DueDate,
		Payer: &mppayment.PayerRequest{
			Email:          req.Payer.Email,
			FirstName:      req.Payer.FirstName(),
			LastName:       req.Payer.LastName(),
			Identification: &mppayment.IdentificationRequest{Type: string(taxType), Number: req.Payer.TaxIDDigits()},
		},
		Metadata: map[string]any{event.TenantMetadataKey: req.TenantID},
	}
	switch req.Method {
	case MethodPix:
		body.PaymentMethodID = "pix"
	case MethodBoleto:
		body.PaymentMethodID = "bolbradesco"
	case MethodCreditCard:
		if req.CardBrand == "" {
			return nil, newError(mercadoPagoName, OpCreateOneOffPayment, ErrValidation, errors.New("card_brand is required for credit_card"))
		}
		body.PaymentMethodID = req.CardBrand
		body.Token = req.CardToken
		body.Installments = max(req.Installments, 1)
	}

	out, err := p.payments.Create(withIdempotencyKey(ctx, req.IdempotencyKey), body)
	if err != nil {
		return nil, mpError(OpCreateOneOffPayment, err)
	}
	res := mpPaymentResult(out)
	res.Extras[ExtraTaxIDType] = string(taxType)
	return res, nil
}

func (p *MercadoPagoProvider) GetPaymentStatus(ctx context.Context, id string) (*PaymentResult, error) {
	out, err := p.getPayment(ctx, OpGetPaymentStatus, id)
	if err != nil {
		return nil, err
	}
	return mpPaymentResult(out), nil
}

// CancelPayment cancels a pending or in-process payment. Payments Mercado
// Pago reports in a terminal status produce a ConflictError without a write.
func (p *MercadoPagoProvider) CancelPayment(ctx context.Context, id string) error {
	current, err := p.getPayment(ctx, OpCancelPayment, id)
	if err != nil {
		return err
	}
	if TerminalPaymentStatus(current.Status) {
		oe := newError(mercadoPagoName, OpCancelPayment, ErrConflict, fmt.Errorf("payment %s is already %s", id, current.Status))
		oe.StatusDetail = current.Status
		return oe
	}

	_, err = p.payments.Cancel(ctx, current.ID)
	if err == nil {
		return nil
	}
	oe := mpError(OpCancelPayment, err)
	if oe.HTTPStatus == http.StatusBadRequest {
		// Status changed between the read and the write.
		oe.Kind = ErrConflict
	}
	return oe
}

func (p *MercadoPagoProvider) getPayment(ctx context.Context, op, id string) (*mppayment.Response, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, newError(mercadoPagoName, op, ErrNotFound, fmt.Errorf("payment id %q is not numeric", id))
	}
	out, err := p.payments.Get(ctx, n)
	if err != nil {
		return nil, mpError(op, err)
	}
	return out, nil
}

func mpPaymentResult(in *mppayment.Response) *PaymentResult {
	res := &PaymentResult{
		ID:           strconv.Itoa(in.ID),
		Provider:     mercadoPagoName,
		Status:       in.Status,
		StatusDetail: in.StatusDetail,
		Amount:       decimal.NewFromFloat(in.TransactionAmount),
		Currency:     in.CurrencyID,
		ApprovedAt:   utcPtr(in.DateApproved),
		Extras:       map[string]string{},
	}
	if !in.DateCreated.IsZero() {
		res.CreatedAt = in.DateCreated.UTC()
	}
	td := in.PointOfInteraction.TransactionData
	setExtra(res.Extras, ExtraPixQRCode, td.QRCode)
	setExtra(res.Extras, ExtraPixQRCodeBase64, td.QRCodeBase64)
	setExtra(res.Extras, ExtraTicketURL, td.TicketURL)
	setExtra(res.Extras, ExtraBoletoURL, in.TransactionDetails.ExternalResourceURL)
	setExtra(res.Extras, ExtraBoletoBarcode, in.TransactionDetails.DigitableLine)
	if !in.DateOfExpiration.IsZero() {
		res.Extras[ExtraExpiresAt] = in.DateOfExpiration.UTC().Format(time.RFC3339)
	}
	ensurePixImage(res)
	return res
}

// CreateCustomer returns the payer e-mail: preapprovals are keyed by payer
// e-mail and Mercado Pago needs no customer object for them.
func (p *MercadoPagoProvider) CreateCustomer(_ context.Context, req CustomerRequest) (string, error) {
	if req.Payer.Email == "" {
		return "", newError(mercadoPagoName, OpCreateCustomer, ErrValidation, errors.New("payer email is required"))
	}
	return req.Payer.Email, nil
}

// CreateSubscription creates a pending preapproval. The payer authorizes it
// at ActionURL. Without an Amount, PlanRef is used as a preapproval plan id.
func (p *MercadoPagoProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(mercadoPagoName, OpCreateSubscription, ErrValidation, err)
	}

	body := preapproval.Request{
		Reason:            req.PlanName,
		ExternalReference: req.TenantID,
		PayerEmail:        req.CustomerRef,
		BackURL:           req.BackURL,
		Status:            "pending",
	}
	if body.Reason == "" {
		body.Reason = req.PlanRef
	}
	if req.Amount.IsZero() {
		body.PreapprovalPlanID = req.PlanRef
	} else {
		currency := req.Currency
		if currency == "" {
			currency = "BRL"
		}
		body.AutoRecurring = &preapproval.AutoRecurringRequest{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: req.Amount.Round(2).InexactFloat64(),
			CurrencyID:        currency,
		}
		if req.TrialDays > 0 {
			body.AutoRecurring.FreeTrial = &preapproval.FreeTrialRequest{Frequency: req.TrialDays, FrequencyType: "days"}
		}
	}

	out, err := p.preapprovals.Create(withIdempotencyKey(ctx, req.IdempotencyKey), body)
	if err != nil {
		return nil, mpError(OpCreateSubscription, err)
	}
	res := mpSubscriptionResult(out)
	if res.CustomerRef == "" {
		res.CustomerRef = req.CustomerRef
	}
	return res, nil
}

// UpdateSubscription changes the recurring amount (plan change) or schedules
// the end of the subscription. Preapprovals bound to a plan id cannot
// switch plans.
func (p *MercadoPagoProvider) UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (*SubscriptionResult, error) {
	body := preapproval.UpdateRequest{}
	if upd.PlanRef != nil {
		if upd.Amount == nil {
			return nil, newError(mercadoPagoName, OpUpdateSubscription, ErrUnsupported, errors.New("plan change requires the new amount"))
		}
		body.Reason = *upd.PlanRef
		body.AutoRecurring = &preapproval.AutoRecurringUpdateRequest{TransactionAmount: upd.Amount.Round(2).InexactFloat64()}
	}
	if upd.CancelAtPeriodEnd != nil && *upd.CancelAtPeriodEnd {
		current, err := p.preapprovals.Get(ctx, id)
		if err != nil {
			return nil, mpError(OpUpdateSubscription, err)
		}
		if body.AutoRecurring == nil {
			body.AutoRecurring = &preapproval.AutoRecurringUpdateRequest{}
		}
		if next := current.NextPaymentDate; !next.IsZero() {
			body.AutoRecurring.EndDate = &next
		}
	}

	out, err := p.preapprovals.Update(ctx, id, body)
	if err != nil {
		return nil, mpError(OpUpdateSubscription, err)
	}
	return mpSubscriptionResult(out), nil
}

// CancelSubscription cancels the preapproval now, or sets its end date to
// the next billing date when immediate is false.
func (p *MercadoPagoProvider) CancelSubscription(ctx context.Context, id string, immediate bool) (*SubscriptionResult, error) {
	if !immediate {
		atEnd := true
		return p.UpdateSubscription(ctx, id, SubscriptionUpdate{CancelAtPeriodEnd: &atEnd})
	}
	out, err := p.preapprovals.Update(ctx, id, preapproval.UpdateRequest{Status: "cancelled"})
	if err != nil {
		return nil, mpError(OpCancelSubscription, err)
	}
	return mpSubscriptionResult(out), nil
}

// GetSubscription fetches the current preapproval state.
func (p *MercadoPagoProvider) GetSubscription(ctx context.Context, id string) (*SubscriptionResult, error) {
	out, err := p.preapprovals.Get(ctx, id)
	if err != nil {
		return nil, mpError(OpGetSubscription, err)
	}
	return mpSubscriptionResult(out), nil
}

func mpSubscriptionResult(in *preapproval.Response) *SubscriptionResult {
	status := event.MercadoPagoPreapprovalStatus(in.Status)
	res := &SubscriptionResult{
		ID:                in.ID,
		CustomerRef:       in.PayerEmail,
		Status:            status,
		CancelAtPeriodEnd: !in.AutoRecurring.EndDate.IsZero() && status != event.StatusCanceled,
		ActionURL:         in.InitPoint,
	}
	created := utcPtr(in.DateCreated)
	if t := utcPtr(in.Summarized.LastChargedDate); t != nil {
		res.CurrentPeriodStart = *t
	} else if created != nil {
		res.CurrentPeriodStart = *created
	}
	if t := utcPtr(in.NextPaymentDate); t != nil {
		res.CurrentPeriodEnd = *t
	}
	if ft := in.AutoRecurring.FreeTrial; ft.Frequency > 0 && created != nil {
		end := *created
		if ft.FrequencyType == "months" {
			end = end.AddDate(0, ft.Frequency, 0)
		} else {
			end = end.AddDate(0, 0, ft.Frequency)
		}
		res.TrialEnd = &end
	}
	if status == event.StatusCanceled {
		res.CanceledAt = utcPtr(in.LastModified)
	}
	return res
}

// Enrich fetches the resource a notification refers to and fills in the
// event state.
func (p *MercadoPagoProvider) Enrich(ctx context.Context, ev event.Event) (event.Event, error) {
	if !ev.NeedsEnrichment {
		return ev, nil
	}

	switch ev.Type {
	case event.PaymentUpdated:
		pay, err := p.getPayment(ctx, OpEnrichEvent, ev.PaymentRef)
		if err != nil {
			return ev, err
		}
		ev.PaymentStatus = pay.Status
		ev.TenantHint = pay.ExternalReference
		fillOccurredAt(&ev, pay.DateLastUpdated)

	case event.SubscriptionCreated, event.SubscriptionUpdated:
		pre, err := p.preapprovals.Get(ctx, ev.SubscriptionRef)
		if err != nil {
			return ev, mpError(OpEnrichEvent, err)
		}
		res := mpSubscriptionResult(pre)
		ev.CustomerRef = res.CustomerRef
		ev.TenantHint = pre.ExternalReference
		ev.PlanRef = pre.PreapprovalPlanID
		ev.Status = res.Status
		ev.CancelAtPeriodEnd = res.CancelAtPeriodEnd
		ev.TrialEnd = res.TrialEnd
		ev.CanceledAt = res.CanceledAt
		ev.PeriodStart = timePtr(res.CurrentPeriodStart)
		ev.PeriodEnd = timePtr(res.CurrentPeriodEnd)
		fillOccurredAt(&ev, pre.LastModified)

	case event.InvoicePaymentSucceeded, event.InvoicePaymentFailed:
		ap, err := p.invoices.Get(ctx, ev.PaymentRef)
		if err != nil {
			return ev, mpError(OpEnrichEvent, err)
		}
		status := ap.Payment.Status
		if status == "" {
			status = ap.Status
		}
		ev.Type = event.MercadoPagoAuthorizedPaymentType(status)
		ev.SubscriptionRef = ap.PreapprovalID
		ev.PaymentStatus = status
		fillOccurredAt(&ev, ap.LastModified)
		fillOccurredAt(&ev, ap.DateCreated)
	}

	ev.NeedsEnrichment = false
	return ev, nil
}

func fillOccurredAt(ev *event.Event, ts time.Time) {
	if ev.OccurredAt.IsZero() && !ts.IsZero() {
		ev.OccurredAt = ts.UTC()
	}
}

type mpErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Cause   []struct {
		Code        any    `json:"code"`
		Description string `json:"description"`
	} `json:"cause"`
}

// mpError wraps an SDK error. Response errors carry the raw API body, which
// holds the provider's status detail.
func mpError(op string, err error) *OperationError {
	var re *mperror.ResponseError
	if !errors.As(err, &re) {
		return newError(mercadoPagoName, op, ErrProvider, err)
	}

	var eb mpErrorBody
	_ = json.Unmarshal([]byte(re.Message), &eb)
	detail := eb.Message
	if len(eb.Cause) > 0 && eb.Cause[0].Description != "" {
		detail = eb.Cause[0].Description
	}
	kind := ErrProvider
	if re.StatusCode == http.StatusNotFound {
		kind = ErrNotFound
	}
	oe := newError(mercadoPagoName, op, kind, fmt.Errorf("http %d: %s", re.StatusCode, strings.TrimSpace(eb.Error+" "+detail)))
	oe.HTTPStatus = re.StatusCode
	oe.StatusDetail = detail
	return oe
}

func utcPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func setExtra(extras map[string]string, key, value string) {
	if value != "" {
		extras[key] = value
	}
}
