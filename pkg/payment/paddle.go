package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/imobcloud/billing/pkg/event"
)

const paddleName = string(event.ProviderPaddle)

// PaddleProvider is the alternative recurring provider. Subscriptions are
// started through a hosted checkout, so CreateSubscription only returns the
// checkout URL; the subscription id arrives with the subscription.created
// webhook.
type PaddleProvider struct {
	client *paddle.SDK
	prices map[string]string
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("PADDLE_API_KEY is empty"))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox", "":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}
	return &PaddleProvider{client: client, prices: cfg.Prices}, nil
}

func (p *PaddleProvider) Name() string { return paddleName }

func (p *PaddleProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if req.Payer.Email == "" {
		return "", newError(paddleName, OpCreateCustomer, ErrValidation, errors.New("payer email is required"))
	}
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      req.Payer.Email,
		Name:       paddle.PtrTo(req.Payer.Name),
		CustomData: paddle.CustomData{event.TenantMetadataKey: req.TenantID},
	})
	if err != nil {
		return "", newError(paddleName, OpCreateCustomer, ErrProvider, err)
	}
	return customer.ID, nil
}

// CreateSubscription opens a checkout transaction for the plan price.
func (p *PaddleProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(paddleName, OpCreateSubscription, ErrValidation, err)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  p.priceFor(req.PlanRef),
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerRef),
		CustomData: paddle.CustomData{
			event.TenantMetadataKey: req.TenantID,
			"plan_id":               req.PlanRef,
		},
	}
	if req.BackURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.BackURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, newError(paddleName, OpCreateSubscription, ErrProvider, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, newError(paddleName, OpCreateSubscription, ErrProvider, errors.New("no checkout URL returned"))
	}
	return &SubscriptionResult{
		CustomerRef: req.CustomerRef,
		Status:      event.StatusIncomplete,
		ActionURL:   *tx.Checkout.URL,
	}, nil
}

// UpdateSubscription schedules cancellation directly. Plan changes are
// handed to the customer portal, returned as ActionURL.
func (p *PaddleProvider) UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (*SubscriptionResult, error) {
	if upd.CancelAtPeriodEnd != nil {
		if !*upd.CancelAtPeriodEnd {
			return nil, newError(paddleName, OpUpdateSubscription, ErrUnsupported, errors.New("removing a scheduled cancellation is done in the customer portal"))
		}
		if upd.PlanRef == nil {
			return p.CancelSubscription(ctx, id, false)
		}
	}
	if upd.PlanRef == nil {
		return p.GetSubscription(ctx, id)
	}

	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, newError(paddleName, OpUpdateSubscription, ErrProvider, err)
	}
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      sub.CustomerID,
		SubscriptionIDs: []string{id},
	})
	if err != nil {
		return nil, newError(paddleName, OpUpdateSubscription, ErrProvider, err)
	}

	res := paddleSubscriptionResult(sub)
	res.ActionURL = session.URLs.General.Overview
	for _, s := range session.URLs.Subscriptions {
		if s.ID == id && s.UpdateSubscriptionPaymentMethod != "" {
			res.ActionURL = s.UpdateSubscriptionPaymentMethod
			break
		}
	}
	if res.ActionURL == "" {
		return nil, newError(paddleName, OpUpdateSubscription, ErrProvider, errors.New("no portal URL returned"))
	}
	return res, nil
}

func (p *PaddleProvider) CancelSubscription(ctx context.Context, id string, immediate bool) (*SubscriptionResult, error) {
	effective := paddle.EffectiveFromNextBillingPeriod
	if immediate {
		effective = paddle.EffectiveFromImmediately
	}
	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: id,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return nil, newError(paddleName, OpCancelSubscription, ErrProvider, err)
	}
	res := paddleSubscriptionResult(sub)
	if !immediate {
		res.CancelAtPeriodEnd = true
	}
	return res, nil
}

func (p *PaddleProvider) GetSubscription(ctx context.Context, id string) (*SubscriptionResult, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, newError(paddleName, OpGetSubscription, ErrProvider, err)
	}
	return paddleSubscriptionResult(sub), nil
}

func (p *PaddleProvider) priceFor(planRef string) string {
	if price, ok := p.prices[planRef]; ok {
		return price
	}
	return planRef
}

func paddleSubscriptionResult(sub *paddle.Subscription) *SubscriptionResult {
	res := &SubscriptionResult{
		ID:          sub.ID,
		CustomerRef: sub.CustomerID,
		Status:      event.PaddleStatus(string(sub.Status)),
	}
	if period := sub.CurrentBillingPeriod; period != nil {
		if t, err := time.Parse(time.RFC3339, period.StartsAt); err == nil {
			res.CurrentPeriodStart = t.UTC()
		}
		if t, err := time.Parse(time.RFC3339, period.EndsAt); err == nil {
			res.CurrentPeriodEnd = t.UTC()
		}
	}
	return res
}
