package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/alert"
	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/svc/billing"
)

type mockRecurring struct {
	mock.Mock
	name string
}

func (m *mockRecurring) Name() string { return m.name }

func (m *mockRecurring) CreateCustomer(ctx context.Context, req payment.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockRecurring) CreateSubscription(ctx context.Context, req payment.SubscriptionRequest) (*payment.SubscriptionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SubscriptionResult), args.Error(1)
}

func (m *mockRecurring) UpdateSubscription(ctx context.Context, id string, upd payment.SubscriptionUpdate) (*payment.SubscriptionResult, error) {
	args := m.Called(ctx, id, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SubscriptionResult), args.Error(1)
}

func (m *mockRecurring) CancelSubscription(ctx context.Context, id string, immediate bool) (*payment.SubscriptionResult, error) {
	args := m.Called(ctx, id, immediate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SubscriptionResult), args.Error(1)
}

type mockOneOff struct {
	mock.Mock
	name string
}

func (m *mockOneOff) Name() string { return m.name }

func (m *mockOneOff) CreateOneOffPayment(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentResult), args.Error(1)
}

func (m *mockOneOff) GetPaymentStatus(ctx context.Context, id string) (*payment.PaymentResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentResult), args.Error(1)
}

func (m *mockOneOff) CancelPayment(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, ev event.Event) (event.Event, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(event.Event), args.Error(1)
}

// recorder collects reported incidents.
type recorder struct {
	mu        sync.Mutex
	incidents []alert.Incident
}

func (r *recorder) Report(_ context.Context, inc alert.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
}

func (r *recorder) all() []alert.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Incident(nil), r.incidents...)
}

type usage map[limits.Resource]int64

func (u usage) CountUsage(_ context.Context, _ uuid.UUID, res limits.Resource) (int64, error) {
	return u[res], nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func plans() []limits.Plan {
	return []limits.Plan{
		{
			ID:       "basic",
			Name:     "Basic",
			Limits:   map[limits.Resource]int64{limits.ResourceUsers: 3, limits.ResourceProperties: 50},
			Features: []limits.Feature{limits.FeatureBasic},
			Price:    decimal.RequireFromString("99.90"),
			Currency: "BRL",
			ProviderPrices: map[string]string{
				"stripe": "price_basic",
			},
		},
		{
			ID:        "pro",
			Name:      "Pro",
			Limits:    map[limits.Resource]int64{limits.ResourceUsers: 10, limits.ResourceProperties: limits.Unlimited, limits.ResourceIntegrations: 5},
			Features:  []limits.Feature{limits.FeatureBasic, limits.FeaturePortalSync, limits.FeatureContracts},
			TrialDays: 7,
			Price:     decimal.RequireFromString("299.90"),
			Currency:  "BRL",
			ProviderPrices: map[string]string{
				"stripe": "price_pro",
			},
		},
	}
}

type fixture struct {
	store     *subscription.MemoryStore
	subs      *subscription.Service
	payments  *billing.MemoryPaymentStore
	recurring *mockRecurring
	oneOff    *mockOneOff
	enricher  *mockEnricher
	reporter  *recorder
	usage     usage
	svc       *billing.Service
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()

	catalog, err := limits.NewCatalog(t.Context(), limits.NewInMemSource(plans()...))
	require.NoError(t, err)

	f := &fixture{
		store:     subscription.NewMemoryStore(),
		payments:  billing.NewMemoryPaymentStore(),
		recurring: &mockRecurring{name: "stripe"},
		oneOff:    &mockOneOff{name: "mercadopago"},
		enricher:  &mockEnricher{},
		reporter:  &recorder{},
		usage:     usage{},
	}
	clock := func() time.Time { return fixedNow }
	f.subs = subscription.NewService(f.store,
		subscription.WithClock(clock),
		subscription.WithPlanResolver(catalog.PlanForPrice),
	)
	enforcer := limits.NewEnforcer(f.subs, catalog, f.usage)

	base := []billing.Option{
		billing.WithRecurringProviders(f.recurring),
		billing.WithOneOffProviders(f.oneOff),
		billing.WithReporter(f.reporter),
		billing.WithClock(clock),
		billing.WithWebhookSources(
			billing.StripeSource(acceptAll()),
			billing.MercadoPagoSource(webhookMercadoPago(), f.enricher),
		),
	}
	f.svc = billing.NewService(f.subs, enforcer, catalog, f.payments, append(base, opts...)...)
	return f
}

// provisioned creates a tenant attached to the stripe customer and
// subscription given.
func (f *fixture) provisioned(t *testing.T, planID, customerRef, subscriptionRef string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.subs.Provision(t.Context(), id, planID, 0)
	require.NoError(t, err)
	_, err = f.subs.AttachProvider(t.Context(), id, "stripe", customerRef, subscriptionRef, "")
	require.NoError(t, err)
	return id
}
