package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/imobcloud/billing/pkg/event"
)

const stripeName = string(event.ProviderStripe)

var ErrMissingCredentials = errors.New("payment: provider credentials are not configured")

// StripeProvider is the recurring provider (Provider A). It also takes
// one-off payments through PaymentIntents.
type StripeProvider struct {
	api    *client.API
	prices map[string]string
}

// NewStripeProvider builds a client bound to cfg.APIKey. Requests are made
// once; the SDK's network retries are disabled.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("STRIPE_API_KEY is empty"))
	}
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	api := client.New(cfg.APIKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &StripeProvider{api: api, prices: cfg.Prices}, nil
}

func (p *StripeProvider) Name() string { return stripeName }

func (p *StripeProvider) CreateOneOffPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(stripeName, OpCreateOneOffPayment, ErrValidation, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(req.Amount.Shift(2).IntPart()),
		Currency:     stripe.String(strings.ToLower(req.Currency)),
		Description:  stripe.String(req.Description),
		ReceiptEmail: stripe.String(req.Payer.Email),
		Confirm:      stripe.Bool(true),
		Metadata: map[string]string{
			event.TenantMetadataKey: req.TenantID,
			ExtraTaxIDType:          string(req.Payer.TaxIDType()),
		},
	}
	billing := &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{
		Name:  stripe.String(req.Payer.Name),
		Email: stripe.String(req.Payer.Email),
	}
	switch req.Method {
	case MethodPix:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"pix"})
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type:           stripe.String("pix"),
			BillingDetails: billing,
		}
	case MethodBoleto:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"boleto"})
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type:           stripe.String("boleto"),
			BillingDetails: billing,
			Boleto:         &stripe.PaymentMethodBoletoParams{TaxID: stripe.String(req.Payer.TaxIDDigits())},
		}
	case MethodCreditCard:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.PaymentMethod = stripe.String(req.CardToken)
	}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, p.wrap(OpCreateOneOffPayment, err)
	}
	res := stripeIntentResult(pi)
	res.Extras[ExtraTaxIDType] = string(req.Payer.TaxIDType())
	return res, nil
}

func (p *StripeProvider) GetPaymentStatus(ctx context.Context, id string) (*PaymentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, p.wrap(OpGetPaymentStatus, err)
	}
	return stripeIntentResult(pi), nil
}

// CancelPayment cancels a PaymentIntent. Stripe refuses to cancel intents
// that already succeeded or were canceled; that refusal is a ConflictError.
func (p *StripeProvider) CancelPayment(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Cancel(id, params); err != nil {
		return p.wrap(OpCancelPayment, err)
	}
	return nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(req.Payer.Email),
		Name:     stripe.String(req.Payer.Name),
		Metadata: map[string]string{event.TenantMetadataKey: req.TenantID},
	}
	params.Context = ctx
	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", p.wrap(OpCreateCustomer, err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(stripeName, OpCreateSubscription, ErrValidation, err)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.priceFor(req.PlanRef))},
		},
		Metadata: map[string]string{event.TenantMetadataKey: req.TenantID},
	}
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, p.wrap(OpCreateSubscription, err)
	}
	return stripeSubscriptionResult(sub)
}

func (p *StripeProvider) UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (*SubscriptionResult, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	if upd.PlanRef != nil {
		current, err := p.getSubscription(ctx, id)
		if err != nil {
			return nil, p.wrap(OpUpdateSubscription, err)
		}
		itemID, err := firstStripeItemID(current)
		if err != nil {
			return nil, newError(stripeName, OpUpdateSubscription, ErrProvider, err)
		}
		params.Items = []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Price: stripe.String(p.priceFor(*upd.PlanRef))},
		}
		params.ProrationBehavior = stripe.String("create_prorations")
	}
	if upd.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*upd.CancelAtPeriodEnd)
	}

	sub, err := p.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, p.wrap(OpUpdateSubscription, err)
	}
	return stripeSubscriptionResult(sub)
}

// CancelSubscription ends the subscription now, or flags it to end at the
// current period's end when immediate is false.
func (p *StripeProvider) CancelSubscription(ctx context.Context, id string, immediate bool) (*SubscriptionResult, error) {
	if !immediate {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err := p.api.Subscriptions.Update(id, params)
		if err != nil {
			return nil, p.wrap(OpCancelSubscription, err)
		}
		return stripeSubscriptionResult(sub)
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return nil, p.wrap(OpCancelSubscription, err)
	}
	return stripeSubscriptionResult(sub)
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*SubscriptionResult, error) {
	sub, err := p.getSubscription(ctx, id)
	if err != nil {
		return nil, p.wrap(OpGetSubscription, err)
	}
	return stripeSubscriptionResult(sub)
}

func (p *StripeProvider) getSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return p.api.Subscriptions.Get(id, params)
}

func (p *StripeProvider) priceFor(planRef string) string {
	if price, ok := p.prices[planRef]; ok {
		return price
	}
	return planRef
}

func (p *StripeProvider) wrap(op string, err error) error {
	oe := newError(stripeName, op, ErrProvider, err)
	var se *stripe.Error
	if !errors.As(err, &se) {
		return oe
	}
	oe.HTTPStatus = se.HTTPStatusCode
	oe.StatusDetail = string(se.Code)
	switch {
	case se.Code == "payment_intent_unexpected_state":
		oe.Kind = ErrConflict
	case se.Code == "resource_missing" || se.HTTPStatusCode == 404:
		oe.Kind = ErrNotFound
	case se.HTTPStatusCode == 409:
		oe.Kind = ErrConflict
	}
	return oe
}

// Nested objects are decoded from the raw response so the mapping does not
// depend on SDK struct layout across API versions.
type stripeIntentJSON struct {
	CancellationReason string `json:"cancellation_reason"`
	LastPaymentError   *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
	} `json:"last_payment_error"`
	LatestCharge json.RawMessage `json:"latest_charge"`
	NextAction   *struct {
		PixDisplayQRCode *struct {
			Data        string `json:"data"`
			ImageURLPNG string `json:"image_url_png"`
			ExpiresAt   int64  `json:"expires_at"`
		} `json:"pix_display_qr_code"`
		BoletoDisplayDetails *struct {
			HostedVoucherURL string `json:"hosted_voucher_url"`
			Number           string `json:"number"`
			ExpiresAt        int64  `json:"expires_at"`
		} `json:"boleto_display_details"`
	} `json:"next_action"`
}

func stripeIntentResult(pi *stripe.PaymentIntent) *PaymentResult {
	res := &PaymentResult{
		ID:        pi.ID,
		Provider:  stripeName,
		Status:    string(pi.Status),
		Amount:    decimal.New(pi.Amount, -2),
		Currency:  strings.ToUpper(string(pi.Currency)),
		CreatedAt: time.Unix(pi.Created, 0).UTC(),
		Extras:    map[string]string{},
	}
	if pi.LastResponse == nil || len(pi.LastResponse.RawJSON) == 0 {
		return res
	}

	var raw stripeIntentJSON
	if err := json.Unmarshal(pi.LastResponse.RawJSON, &raw); err != nil {
		return res
	}
	switch {
	case raw.LastPaymentError != nil && raw.LastPaymentError.DeclineCode != "":
		res.StatusDetail = raw.LastPaymentError.DeclineCode
	case raw.LastPaymentError != nil:
		res.StatusDetail = raw.LastPaymentError.Code
	default:
		res.StatusDetail = raw.CancellationReason
	}
	if na := raw.NextAction; na != nil {
		if pix := na.PixDisplayQRCode; pix != nil {
			res.Extras[ExtraPixQRCode] = pix.Data
			res.Extras[ExtraTicketURL] = pix.ImageURLPNG
			setExpiry(res.Extras, pix.ExpiresAt)
		}
		if b := na.BoletoDisplayDetails; b != nil {
			res.Extras[ExtraBoletoURL] = b.HostedVoucherURL
			res.Extras[ExtraBoletoBarcode] = b.Number
			setExpiry(res.Extras, b.ExpiresAt)
		}
	}
	ensurePixImage(res)
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		var charge struct {
			Created int64 `json:"created"`
		}
		if json.Unmarshal(raw.LatestCharge, &charge) == nil && charge.Created > 0 {
			t := time.Unix(charge.Created, 0).UTC()
			res.ApprovedAt = &t
		}
	}
	return res
}

func setExpiry(extras map[string]string, unix int64) {
	if unix > 0 {
		extras[ExtraExpiresAt] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
	}
}

type stripeSubscriptionJSON struct {
	ID                 string          `json:"id"`
	Customer           json.RawMessage `json:"customer"`
	Status             string          `json:"status"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
	CanceledAt         int64           `json:"canceled_at"`
	TrialEnd           int64           `json:"trial_end"`
	CurrentPeriodStart int64           `json:"current_period_start"`
	CurrentPeriodEnd   int64           `json:"current_period_end"`
	Items              struct {
		Data []struct {
			ID                 string `json:"id"`
			CurrentPeriodStart int64  `json:"current_period_start"`
			CurrentPeriodEnd   int64  `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeStripeSubscription(sub *stripe.Subscription) (stripeSubscriptionJSON, error) {
	var raw stripeSubscriptionJSON
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		raw.ID = sub.ID
		raw.Status = string(sub.Status)
		return raw, nil
	}
	err := json.Unmarshal(sub.LastResponse.RawJSON, &raw)
	return raw, err
}

func firstStripeItemID(sub *stripe.Subscription) (string, error) {
	raw, err := decodeStripeSubscription(sub)
	if err != nil {
		return "", err
	}
	if len(raw.Items.Data) == 0 || raw.Items.Data[0].ID == "" {
		return "", errors.New("subscription has no items")
	}
	return raw.Items.Data[0].ID, nil
}

func stripeSubscriptionResult(sub *stripe.Subscription) (*SubscriptionResult, error) {
	raw, err := decodeStripeSubscription(sub)
	if err != nil {
		return nil, newError(stripeName, OpGetSubscription, ErrProvider, err)
	}

	start, end := raw.CurrentPeriodStart, raw.CurrentPeriodEnd
	if len(raw.Items.Data) > 0 && raw.Items.Data[0].CurrentPeriodStart > 0 {
		start, end = raw.Items.Data[0].CurrentPeriodStart, raw.Items.Data[0].CurrentPeriodEnd
	}
	res := &SubscriptionResult{
		ID:                raw.ID,
		CustomerRef:       stripeCustomerID(raw.Customer),
		Status:            event.StripeStatus(raw.Status),
		CancelAtPeriodEnd: raw.CancelAtPeriodEnd,
		TrialEnd:          unixPtr(raw.TrialEnd),
		CanceledAt:        unixPtr(raw.CanceledAt),
	}
	if start > 0 {
		res.CurrentPeriodStart = time.Unix(start, 0).UTC()
	}
	if end > 0 {
		res.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}
	return res, nil
}

func stripeCustomerID(raw json.RawMessage) string {
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &obj)
	return obj.ID
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
