package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/pkg/payment"
)

// Outcome describes what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
)

// Result is the outcome of applying one event.
type Result struct {
	Outcome      Outcome
	TenantID     uuid.UUID
	From         Status
	To           Status
	Subscription *Subscription
	// Reason explains ignored outcomes.
	Reason string
}

// PlanResolver maps a provider price/plan reference to a plan id.
type PlanResolver func(provider, ref string) (planID string, ok bool)

const maxSaveAttempts = 3

// Service applies lifecycle changes to subscriptions. Read-modify-write
// cycles for one tenant are serialized in-process; Store.Save's version check
// covers writers in other processes.
type Service struct {
	store   Store
	ledger  Ledger
	locks   KeyedMutex
	logger  *slog.Logger
	now     func() time.Time
	resolve PlanResolver
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLedger replaces the default in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
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

// WithPlanResolver sets how an event's PlanRef becomes a plan id. Without it
// plan references in events are ignored.
func WithPlanResolver(r PlanResolver) Option {
	return func(s *Service) {
		s.resolve = r
	}
}

// NewService creates a Service over store. It panics if store is nil.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("subscription: store is required")
	}
	s := &Service{
		store:  store,
		ledger: NewMemoryLedger(),
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("subscription"))
	return s
}

func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, tenantID)
}

// Provision creates the trial record of a new tenant. A cancelled record is
// replaced; any other existing record yields ErrSubscriptionAlreadyExists.
func (s *Service) Provision(ctx context.Context, tenantID uuid.UUID, planID string, trialDays int) (*Subscription, error) {
	if planID == "" {
		return nil, ErrInvalidPlan
	}
	unlock := s.locks.Lock(tenantID.String())
	defer unlock()

	var version int64
	existing, err := s.store.Get(ctx, tenantID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
	case err != nil:
		return nil, fmt.Errorf("load subscription: %w", err)
	case existing.Status != StatusCancelled:
		return nil, ErrSubscriptionAlreadyExists
	default:
		version = existing.Version
	}

	now := s.now().UTC()
	sub := &Subscription{
		TenantID:           tenantID,
		PlanID:             planID,
		Status:             StatusTrial,
		CurrentPeriodStart: &now,
		ProviderMetadata:   map[string]string{},
		Version:            version,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if trialDays > 0 {
		end := now.AddDate(0, 0, trialDays)
		sub.TrialEndsAt = &end
		sub.CurrentPeriodEnd = cloneTime(&end)
	}

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	s.logger.InfoContext(ctx, "subscription provisioned",
		logger.TenantID(tenantID),
		slog.String("plan_id", planID),
		slog.Int("trial_days", trialDays),
	)
	return sub, nil
}

// AttachProvider records the provider objects that belong to a tenant so
// that later webhooks resolve to it. The status is left untouched.
func (s *Service) AttachProvider(ctx context.Context, tenantID uuid.UUID, provider, customerRef, subscriptionRef, planID string) (*Subscription, error) {
	unlock := s.locks.Lock(tenantID.String())
	defer unlock()

	return s.update(ctx, tenantID, func(sub *Subscription) {
		sub.setRefs(provider, customerRef, subscriptionRef)
		if planID != "" {
			sub.PlanID = planID
		}
	})
}

// ApplyProviderResult feeds the response of a user-initiated provider call
// (subscribe, change plan, cancel) through the state machine. The provider's
// later webhook for the same change then lands as unchanged.
func (s *Service) ApplyProviderResult(ctx context.Context, tenantID uuid.UUID, provider, planID string, res *payment.SubscriptionResult) (Result, error) {
	if res == nil {
		return Result{}, errors.New("subscription: nil provider result")
	}
	ev := event.Event{
		Provider:          event.Provider(provider),
		Type:              event.SubscriptionUpdated,
		CustomerRef:       res.CustomerRef,
		SubscriptionRef:   res.ID,
		Status:            res.Status,
		CancelAtPeriodEnd: res.CancelAtPeriodEnd,
		TrialEnd:          cloneTime(res.TrialEnd),
		CanceledAt:        cloneTime(res.CanceledAt),
	}
	if !res.CurrentPeriodStart.IsZero() {
		ev.PeriodStart = cloneTime(&res.CurrentPeriodStart)
	}
	if !res.CurrentPeriodEnd.IsZero() {
		ev.PeriodEnd = cloneTime(&res.CurrentPeriodEnd)
	}
	return s.applyForTenant(ctx, tenantID, ev, planID)
}

// Apply moves the subscription an event belongs to. Events that do not
// concern subscriptions yield OutcomeIgnored. An unknown tenant is reported
// as *TenantResolutionError.
func (s *Service) Apply(ctx context.Context, ev event.Event) (Result, error) {
	if !ev.Type.AffectsSubscription() {
		return Result{Outcome: OutcomeIgnored, Reason: "event type does not affect subscriptions"}, nil
	}
	tenantID, err := s.resolveTenant(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	return s.applyForTenant(ctx, tenantID, ev, "")
}

// ApplyForTenant is Apply with the tenant already known.
func (s *Service) ApplyForTenant(ctx context.Context, tenantID uuid.UUID, ev event.Event) (Result, error) {
	if !ev.Type.AffectsSubscription() {
		return Result{Outcome: OutcomeIgnored, TenantID: tenantID, Reason: "event type does not affect subscriptions"}, nil
	}
	return s.applyForTenant(ctx, tenantID, ev, "")
}

func (s *Service) resolveTenant(ctx context.Context, ev event.Event) (uuid.UUID, error) {
	provider := string(ev.Provider)
	lookups := []struct{ key, value string }{
		{CustomerRefKey(provider), ev.CustomerRef},
		{SubscriptionRefKey(provider), ev.SubscriptionRef},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		id, err := s.store.FindTenant(ctx, l.key, l.value)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return uuid.Nil, fmt.Errorf("resolve tenant: %w", err)
		}
	}

	if id, err := uuid.Parse(ev.TenantHint); err == nil {
		_, err := s.store.Get(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return uuid.Nil, fmt.Errorf("resolve tenant: %w", err)
		}
	}

	return uuid.Nil, &TenantResolutionError{
		Provider:        provider,
		CustomerRef:     ev.CustomerRef,
		SubscriptionRef: ev.SubscriptionRef,
	}
}

func (s *Service) applyForTenant(ctx context.Context, tenantID uuid.UUID, ev event.Event, planID string) (Result, error) {
	log := s.logger.With(
		logger.TenantID(tenantID),
		logger.Provider(string(ev.Provider)),
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Type)),
	)

	unlock := s.locks.Lock(tenantID.String())
	defer unlock()

	if ev.ID != "" {
		seen, err := s.ledger.Seen(ctx, string(ev.Provider), ev.ID)
		if err != nil {
			log.WarnContext(ctx, "ledger lookup failed, applying event", logger.Error(err))
		}
		if seen {
			log.DebugContext(ctx, "duplicate event")
			return Result{Outcome: OutcomeDuplicate, TenantID: tenantID}, nil
		}
	}

	var res Result
	for attempt := 1; ; attempt++ {
		current, err := s.store.Get(ctx, tenantID)
		if err != nil {
			return Result{}, fmt.Errorf("load subscription: %w", err)
		}

		var next *Subscription
		res, next = s.transition(current, ev, planID)
		if next == nil {
			break
		}
		next.UpdatedAt = s.now().UTC()
		err = s.store.Save(ctx, next)
		if err == nil {
			res.Subscription = next
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxSaveAttempts {
			return Result{}, fmt.Errorf("save subscription: %w", err)
		}
		log.DebugContext(ctx, "version conflict, retrying", slog.Int("attempt", attempt))
	}
	res.TenantID = tenantID

	if ev.ID != "" {
		if err := s.ledger.Mark(ctx, string(ev.Provider), ev.ID); err != nil {
			log.WarnContext(ctx, "ledger mark failed", logger.Error(err))
		}
	}

	switch res.Outcome {
	case OutcomeApplied:
		log.InfoContext(ctx, "subscription updated",
			slog.String("from", string(res.From)),
			slog.String("to", string(res.To)),
		)
	case OutcomeIgnored, OutcomeStale:
		log.InfoContext(ctx, "event not applied",
			slog.String("outcome", string(res.Outcome)),
			slog.String("status", string(res.From)),
			slog.String("reason", res.Reason),
		)
	default:
		log.DebugContext(ctx, "event applied without changes")
	}
	return res, nil
}

// transition computes the record that results from ev. A nil record means
// there is nothing to save.
func (s *Service) transition(current *Subscription, ev event.Event, planID string) (Result, *Subscription) {
	res := Result{From: current.Status, To: current.Status, Subscription: current}

	if !ev.OccurredAt.IsZero() && current.LastEventAt != nil && ev.OccurredAt.Before(*current.LastEventAt) {
		res.Outcome = OutcomeStale
		res.Reason = "event older than last applied event"
		return res, nil
	}

	to, err := NextStatus(current.Status, ev)
	if err != nil {
		res.Outcome = OutcomeIgnored
		res.Reason = err.Error()
		return res, nil
	}

	next := current.Clone()
	next.Status = to
	if ev.PeriodStart != nil {
		next.CurrentPeriodStart = cloneTime(ev.PeriodStart)
	}
	if ev.PeriodEnd != nil {
		next.CurrentPeriodEnd = cloneTime(ev.PeriodEnd)
	}
	if ev.TrialEnd != nil {
		next.TrialEndsAt = cloneTime(ev.TrialEnd)
	}
	switch {
	case planID != "":
		next.PlanID = planID
	case ev.PlanRef != "" && s.resolve != nil:
		if id, ok := s.resolve(string(ev.Provider), ev.PlanRef); ok {
			next.PlanID = id
		}
	}

	if to == StatusCancelled {
		switch {
		case ev.CanceledAt != nil:
			next.CancelledAt = cloneTime(ev.CanceledAt)
		case next.CancelledAt == nil:
			now := s.now().UTC()
			next.CancelledAt = &now
		}
	} else {
		next.CancelledAt = nil
	}

	next.setRefs(string(ev.Provider), ev.CustomerRef, ev.SubscriptionRef)

	res.To = to
	res.Subscription = next
	res.Outcome = OutcomeApplied
	if sameState(current, next) {
		res.Outcome = OutcomeUnchanged
	}

	newer := !ev.OccurredAt.IsZero() &&
		(current.LastEventAt == nil || ev.OccurredAt.After(*current.LastEventAt))
	if newer {
		occurred := ev.OccurredAt.UTC()
		next.LastEventAt = &occurred
	}
	if res.Outcome == OutcomeUnchanged && !newer {
		return res, nil
	}
	return res, next
}

// update runs fn on the current record and saves it, reloading on version
// conflicts. The caller holds the tenant lock.
func (s *Service) update(ctx context.Context, tenantID uuid.UUID, fn func(*Subscription)) (*Subscription, error) {
	for attempt := 1; ; attempt++ {
		sub, err := s.store.Get(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load subscription: %w", err)
		}
		fn(sub)
		sub.UpdatedAt = s.now().UTC()
		err = s.store.Save(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, fmt.Errorf("save subscription: %w", err)
		}
	}
}
