package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imobcloud/billing/pkg/alert"
	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/pkg/validator"
)

// OneOffProvider takes one-off payments and names itself for records and
// metrics.
type OneOffProvider interface {
	payment.PaymentClient
	Name() string
}

// Service orchestrates provider calls, the subscription lifecycle, plan
// enforcement and payment records for the HTTP layer and the webhooks.
type Service struct {
	subs     *subscription.Service
	enforcer *limits.Enforcer
	plans    limits.PlanStore
	payments PaymentStore
	// paymentLocks serializes status writes per provider payment.
	paymentLocks subscription.KeyedMutex

	recurring        map[string]payment.SubscriptionClient
	defaultRecurring string
	oneOff           map[string]OneOffProvider
	defaultOneOff    string
	sources          map[event.Provider]WebhookSource

	reporter  alert.Reporter
	metrics   *alert.Metrics
	logger    *slog.Logger
	now       func() time.Time
	trialDays int
}

type Option func(*Service)

// WithRecurringProviders registers subscription providers. def is used for
// new subscriptions; the others stay reachable for tenants already
// attached to them.
func WithRecurringProviders(def payment.SubscriptionClient, others ...payment.SubscriptionClient) Option {
	return func(s *Service) {
		if def == nil {
			return
		}
		s.defaultRecurring = def.Name()
		for _, c := range append([]payment.SubscriptionClient{def}, others...) {
			if c != nil {
				s.recurring[c.Name()] = c
			}
		}
	}
}

// WithOneOffProviders registers one-off payment providers; def takes new
// payments.
func WithOneOffProviders(def OneOffProvider, others ...OneOffProvider) Option {
	return func(s *Service) {
		if def == nil {
			return
		}
		s.defaultOneOff = def.Name()
		for _, c := range append([]OneOffProvider{def}, others...) {
			if c != nil {
				s.oneOff[c.Name()] = c
			}
		}
	}
}

// WithWebhookSources registers the inbound webhook pipelines.
func WithWebhookSources(sources ...WebhookSource) Option {
	return func(s *Service) {
		for _, src := range sources {
			s.sources[src.Provider] = src
		}
	}
}

func WithReporter(r alert.Reporter) Option {
	return func(s *Service) {
		if r != nil {
			s.reporter = r
		}
	}
}

func WithMetrics(m *alert.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultTrialDays applies to tenants provisioned without an explicit
// trial length.
func WithDefaultTrialDays(days int) Option {
	return func(s *Service) {
		if days >= 0 {
			s.trialDays = days
		}
	}
}

// NewService creates a Service. Panics if a required dependency is nil.
func NewService(subs *subscription.Service, enforcer *limits.Enforcer, plans limits.PlanStore, payments PaymentStore, opts ...Option) *Service {
	if subs == nil || enforcer == nil || plans == nil || payments == nil {
		panic("billing: subscription service, enforcer, plan store and payment store are required")
	}
	s := &Service{
		subs:      subs,
		enforcer:  enforcer,
		plans:     plans,
		payments:  payments,
		recurring: make(map[string]payment.SubscriptionClient),
		oneOff:    make(map[string]OneOffProvider),
		sources:   make(map[event.Provider]WebhookSource),
		reporter:  alert.Nop,
		logger:    logger.Nop(),
		now:       time.Now,
		trialDays: 14,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("billing"))
	return s
}

// ProvisionTenant starts the trial of a new tenant on the trial plan.
func (s *Service) ProvisionTenant(ctx context.Context, tenantID uuid.UUID, trialDays *int) (*subscription.Subscription, error) {
	days := s.trialDays
	if trialDays != nil {
		days = *trialDays
	}
	if err := validator.Apply(validator.Min("trial_days", days, 0)); err != nil {
		return nil, err
	}
	return s.subs.Provision(ctx, tenantID, limits.TrialPlanID, days)
}

func (s *Service) Subscription(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	return s.subs.Get(ctx, tenantID)
}

// SubscribeRequest starts a paid subscription.
type SubscribeRequest struct {
	PlanID      string                `json:"plan_id"`
	Payer       payment.PayerIdentity `json:"payer"`
	CustomerRef string                `json:"customer_ref,omitempty"`
	TrialDays   *int                  `json:"trial_days,omitempty"`
	BackURL     string                `json:"back_url,omitempty"`
}

func (r SubscribeRequest) Validate() error {
	return validator.Apply(
		validator.Required("plan_id", r.PlanID),
		validator.When(r.CustomerRef == "", validator.ValidEmail("payer.email", r.Payer.Email)),
		validator.When(r.TrialDays != nil, validator.Min("trial_days", deref(r.TrialDays), 0)),
	)
}

// SubscriptionResponse is the outcome of a user-initiated lifecycle call.
type SubscriptionResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	// ActionURL is set when the payer must finish on a provider page.
	ActionURL string `json:"action_url,omitempty"`
}

// Subscribe attaches the tenant to the default recurring provider on
// planID. Tenants without a record are provisioned first; a cancelled
// tenant starts over.
func (s *Service) Subscribe(ctx context.Context, tenantID uuid.UUID, req SubscribeRequest) (*SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	client, err := s.recurringClient(s.defaultRecurring)
	if err != nil {
		return nil, err
	}
	provider := client.Name()

	plan, err := s.plans.Plan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.Get(ctx, tenantID)
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound) || (err == nil && sub.Status == subscription.StatusCancelled):
		if sub, err = s.subs.Provision(ctx, tenantID, plan.ID, 0); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case sub.SubscriptionRef(provider) != "":
		return nil, fmt.Errorf("%w: already subscribed with %s", subscription.ErrSubscriptionAlreadyExists, provider)
	}

	customerRef := req.CustomerRef
	if customerRef == "" {
		customerRef = sub.CustomerRef(provider)
	}
	if customerRef == "" {
		customerRef, err = client.CreateCustomer(ctx, payment.CustomerRequest{TenantID: tenantID.String(), Payer: req.Payer})
		s.observeCall(ctx, provider, payment.OpCreateCustomer, err)
		if err != nil {
			return nil, err
		}
	}
	// Attach before the provider call so webhooks racing the response
	// already resolve to this tenant.
	if _, err := s.subs.AttachProvider(ctx, tenantID, provider, customerRef, "", ""); err != nil {
		return nil, err
	}

	trialDays := plan.TrialDays
	if req.TrialDays != nil {
		trialDays = *req.TrialDays
	}
	res, err := client.CreateSubscription(ctx, payment.SubscriptionRequest{
		TenantID:       tenantID.String(),
		CustomerRef:    customerRef,
		PlanRef:        planRef(plan, provider),
		PlanName:       plan.Name,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		TrialDays:      trialDays,
		PayerEmail:     req.Payer.Email,
		BackURL:        req.BackURL,
		IdempotencyKey: uuid.NewString(),
	})
	s.observeCall(ctx, provider, payment.OpCreateSubscription, err)
	if err != nil {
		return nil, err
	}
	if res.CustomerRef == "" {
		res.CustomerRef = customerRef
	}

	return s.applyResult(ctx, tenantID, provider, plan.ID, res)
}

// ChangePlan moves the tenant to planID at its provider. Downgrades that
// would leave current usage above the new limits are refused.
func (s *Service) ChangePlan(ctx context.Context, tenantID uuid.UUID, planID string) (*SubscriptionResponse, error) {
	if err := validator.Apply(validator.Required("plan_id", planID)); err != nil {
		return nil, err
	}
	plan, err := s.plans.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == plan.ID {
		return &SubscriptionResponse{Subscription: sub}, nil
	}
	if !sub.Status.Entitled() {
		return nil, &limits.SubscriptionInactiveError{Status: sub.Status}
	}

	provider := sub.Provider()
	ref := sub.SubscriptionRef(provider)
	if ref == "" {
		return nil, ErrNoProviderSubscription
	}
	client, err := s.recurringClient(provider)
	if err != nil {
		return nil, err
	}
	if err := s.enforcer.CanDowngrade(ctx, tenantID, plan.ID); err != nil {
		return nil, err
	}

	target := planRef(plan, provider)
	res, err := client.UpdateSubscription(ctx, ref, payment.SubscriptionUpdate{PlanRef: &target, Amount: &plan.Price})
	s.observeCall(ctx, provider, payment.OpUpdateSubscription, err)
	if err != nil {
		return nil, err
	}
	return s.applyResult(ctx, tenantID, provider, plan.ID, res)
}

// CancelSubscription cancels at the provider, immediately or at period
// end. Either way the local record becomes cancelled. Tenants that never
// reached a provider are cancelled locally. Cancelling twice is a no-op.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID, immediate bool) (*SubscriptionResponse, error) {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscription.StatusCancelled {
		return &SubscriptionResponse{Subscription: sub}, nil
	}

	provider := sub.Provider()
	ref := sub.SubscriptionRef(provider)
	if ref == "" {
		now := s.now().UTC()
		res, err := s.subs.ApplyForTenant(ctx, tenantID, event.Event{
			Type:       event.SubscriptionDeleted,
			CanceledAt: &now,
		})
		if err != nil {
			return nil, err
		}
		return &SubscriptionResponse{Subscription: res.Subscription}, nil
	}

	client, err := s.recurringClient(provider)
	if err != nil {
		return nil, err
	}
	res, err := client.CancelSubscription(ctx, ref, immediate)
	s.observeCall(ctx, provider, payment.OpCancelSubscription, err)
	if err != nil {
		return nil, err
	}
	return s.applyResult(ctx, tenantID, provider, "", res)
}

func (s *Service) applyResult(ctx context.Context, tenantID uuid.UUID, provider, planID string, res *payment.SubscriptionResult) (*SubscriptionResponse, error) {
	out, err := s.subs.ApplyProviderResult(ctx, tenantID, provider, planID, res)
	if err != nil {
		return nil, err
	}
	sub := out.Subscription
	if sub == nil {
		if sub, err = s.subs.Get(ctx, tenantID); err != nil {
			return nil, err
		}
	}
	return &SubscriptionResponse{Subscription: sub, ActionURL: res.ActionURL}, nil
}

// CreatePayment charges the tenant once through the default one-off
// provider and records the payment.
func (s *Service) CreatePayment(ctx context.Context, tenantID uuid.UUID, req payment.PaymentRequest) (*Payment, error) {
	client, err := s.oneOffClient(s.defaultOneOff)
	if err != nil {
		return nil, err
	}
	req.TenantID = tenantID.String()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	res, err := client.CreateOneOffPayment(ctx, req)
	s.observeCall(ctx, client.Name(), payment.OpCreateOneOffPayment, err)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Payment{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Provider:       client.Name(),
		ExternalID:     res.ID,
		Method:         req.Method,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.apply(res)
	if err := s.payments.SavePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	s.logger.InfoContext(ctx, "payment created",
		logger.TenantID(tenantID),
		logger.Provider(p.Provider),
		logger.PaymentID(p.ExternalID),
		slog.String("status", p.Status),
	)
	return p, nil
}

// RefreshPayment re-reads the payment status from its provider.
func (s *Service) RefreshPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	p, unlock, err := s.lockedPayment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.refresh(ctx, p)
}

// lockedPayment loads the payment while holding its lock. The record is
// read again under the lock so a concurrent webhook write is not lost.
func (s *Service) lockedPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, func(), error) {
	p, err := s.payments.GetPayment(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockPayment(p.Provider, p.ExternalID)
	if p, err = s.payments.GetPayment(ctx, tenantID, id); err != nil {
		unlock()
		return nil, nil, err
	}
	return p, unlock, nil
}

func (s *Service) lockPayment(provider, externalID string) func() {
	return s.paymentLocks.Lock(provider + ":" + externalID)
}

func (s *Service) refresh(ctx context.Context, p *Payment) (*Payment, error) {
	client, err := s.oneOffClient(p.Provider)
	if err != nil {
		return nil, err
	}
	res, err := client.GetPaymentStatus(ctx, p.ExternalID)
	s.observeCall(ctx, p.Provider, payment.OpGetPaymentStatus, err)
	if err != nil {
		return nil, err
	}
	if p.apply(res) {
		p.UpdatedAt = s.now().UTC()
		if err := s.payments.SavePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("save payment: %w", err)
		}
	}
	return p, nil
}

// CancelPayment cancels a pending payment. The provider decides whether
// the charge can still be cancelled; a final payment comes back as an
// *payment.OperationError of kind payment.ErrConflict.
func (s *Service) CancelPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	p, unlock, err := s.lockedPayment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	client, err := s.oneOffClient(p.Provider)
	if err != nil {
		return nil, err
	}
	err = client.CancelPayment(ctx, p.ExternalID)
	s.observeCall(ctx, p.Provider, payment.OpCancelPayment, err)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, p)
}

// CheckResource reports whether the tenant may create one more res.
func (s *Service) CheckResource(ctx context.Context, tenantID uuid.UUID, res limits.Resource) error {
	return s.enforcer.CanCreate(ctx, tenantID, res)
}

func (s *Service) CheckFeature(ctx context.Context, tenantID uuid.UUID, f limits.Feature) error {
	return s.enforcer.HasFeature(ctx, tenantID, f)
}

func (s *Service) Usage(ctx context.Context, tenantID uuid.UUID) (*limits.UsageReport, error) {
	return s.enforcer.Usage(ctx, tenantID)
}

func (s *Service) recurringClient(name string) (payment.SubscriptionClient, error) {
	c, ok := s.recurring[name]
	if !ok {
		return nil, fmt.Errorf("%w: recurring provider %q is not configured", ErrUnknownProvider, name)
	}
	return c, nil
}

func (s *Service) oneOffClient(name string) (OneOffProvider, error) {
	c, ok := s.oneOff[name]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q is not configured", ErrUnknownProvider, name)
	}
	return c, nil
}

func (s *Service) observeCall(ctx context.Context, provider, op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(provider, op, err)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "provider call failed",
			logger.Provider(provider),
			logger.Operation(op),
			logger.Error(err),
		)
	}
}

// planRef is the provider-side reference of a plan. Providers map plan ids
// to prices themselves when the catalog has no explicit entry.
func planRef(p limits.Plan, provider string) string {
	if ref := p.ProviderPrices[provider]; ref != "" {
		return ref
	}
	return p.ID
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
