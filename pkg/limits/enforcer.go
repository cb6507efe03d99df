package limits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/imobcloud/billing/pkg/subscription"
)

// SubscriptionReader returns a tenant's subscription or
// subscription.ErrSubscriptionNotFound.
type SubscriptionReader interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error)
}

// PlanStore resolves plans by id. *Catalog implements it.
type PlanStore interface {
	Plan(ctx context.Context, planID string) (Plan, error)
}

// Observer is told about every decision the Enforcer makes; subject is the
// resource or feature and err is nil for allowed operations.
type Observer func(subject string, err error)

// Enforcer gates mutating operations behind the tenant's plan and status.
// It only gathers inputs; the decisions are made by Check and CheckFeature.
type Enforcer struct {
	subs     SubscriptionReader
	plans    PlanStore
	counters UsageCounter
	observe  Observer
}

type EnforcerOption func(*Enforcer)

func WithObserver(o Observer) EnforcerOption {
	return func(e *Enforcer) { e.observe = o }
}

// NewEnforcer creates an Enforcer. Panics if any dependency is nil.
func NewEnforcer(subs SubscriptionReader, plans PlanStore, counters UsageCounter, opts ...EnforcerOption) *Enforcer {
	if subs == nil || plans == nil || counters == nil {
		panic("limits: subscription reader, plan store and usage counter are required")
	}
	e := &Enforcer{subs: subs, plans: plans, counters: counters}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanCreate returns nil if the tenant may create one more res, an
// enforcement error if it may not, or an infrastructure error.
func (e *Enforcer) CanCreate(ctx context.Context, tenantID uuid.UUID, res Resource) error {
	if !res.Valid() {
		return ErrInvalidResource
	}
	sub, plan, err := e.resolve(ctx, tenantID)
	if err != nil {
		return err
	}

	// inactive tenants and unlimited plans need no count
	var usage int64
	if checkStatus(sub) == nil && plan.Limit(res) != Unlimited {
		usage, err = e.counters.CountUsage(ctx, tenantID, res)
		if err != nil {
			return errors.Join(ErrFailedToCountUsage, err)
		}
	}

	err = Check(sub, plan, res, usage)
	e.notify(string(res), err)
	return err
}

// HasFeature returns nil if the tenant's plan grants f.
func (e *Enforcer) HasFeature(ctx context.Context, tenantID uuid.UUID, f Feature) error {
	sub, plan, err := e.resolve(ctx, tenantID)
	if err != nil {
		return err
	}
	err = CheckFeature(sub, plan, f)
	e.notify(string(f), err)
	return err
}

// UsageReport is the data behind an upgrade prompt.
type UsageReport struct {
	TenantID  uuid.UUID              `json:"tenant_id"`
	PlanID    string                 `json:"plan_id"`
	Status    subscription.Status    `json:"status"`
	Entitled  bool                   `json:"entitled"`
	Resources map[Resource]UsageInfo `json:"resources"`
	Features  []Feature              `json:"features"`
}

// Usage reports current usage against the plan limits for every resource.
func (e *Enforcer) Usage(ctx context.Context, tenantID uuid.UUID) (*UsageReport, error) {
	sub, plan, err := e.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{
		TenantID:  tenantID,
		PlanID:    plan.ID,
		Status:    subscription.StatusTrial,
		Entitled:  checkStatus(sub) == nil,
		Resources: make(map[Resource]UsageInfo, len(Resources)),
		Features:  plan.Features,
	}
	if sub != nil {
		report.Status = sub.Status
	}
	for _, res := range Resources {
		current, err := e.counters.CountUsage(ctx, tenantID, res)
		if err != nil {
			return nil, errors.Join(ErrFailedToCountUsage, err)
		}
		report.Resources[res] = UsageInfo{Current: current, Limit: plan.Limit(res)}
	}
	return report, nil
}

// CanDowngrade checks that current usage fits every decreased limit of the
// target plan.
func (e *Enforcer) CanDowngrade(ctx context.Context, tenantID uuid.UUID, targetPlanID string) error {
	target, err := e.plans.Plan(ctx, targetPlanID)
	if err != nil {
		return err
	}
	_, current, err := e.resolve(ctx, tenantID)
	if err != nil {
		return err
	}

	for res, change := range ComparePlans(current, target).DecreasedLimits {
		usage, err := e.counters.CountUsage(ctx, tenantID, res)
		if err != nil {
			return errors.Join(ErrFailedToCountUsage, err)
		}
		if usage > change.To {
			return errors.Join(ErrDowngradeNotPossible,
				&LimitReachedError{Resource: res, CurrentUsage: usage, MaxAllowed: change.To})
		}
	}
	return nil
}

// resolve returns the subscription (nil when the tenant has none yet) and
// the plan that applies to it.
func (e *Enforcer) resolve(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, Plan, error) {
	sub, err := e.subs.Get(ctx, tenantID)
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return nil, DefaultTrialPlan(), nil
	case err != nil:
		return nil, Plan{}, fmt.Errorf("load subscription: %w", err)
	}

	plan, err := e.plans.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, Plan{}, err
	}
	return sub, plan, nil
}

func (e *Enforcer) notify(subject string, err error) {
	if e.observe != nil {
		e.observe(subject, err)
	}
}
