package subscription

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status is the canonical entitlement status.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Entitled reports whether the status grants access to the plan.
func (s Status) Entitled() bool {
	return s == StatusTrial || s == StatusActive
}

// Subscription is the canonical entitlement record of a tenant. TenantID is
// the primary key; records are never deleted, only cancelled.
type Subscription struct {
	TenantID           uuid.UUID  `json:"tenant_id"`
	PlanID             string     `json:"plan_id"`
	Status             Status     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	// ProviderMetadata holds provider object ids. The state machine never
	// reads it; it is used to resolve the tenant of an inbound event.
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`
	Version          int64             `json:"version"`
	LastEventAt      *time.Time        `json:"last_event_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Provider metadata keys. Values are namespaced by provider name, e.g.
// "stripe.customer_id".
const (
	metaProvider       = "provider"
	metaCustomerID     = "customer_id"
	metaSubscriptionID = "subscription_id"
)

func CustomerRefKey(provider string) string     { return provider + "." + metaCustomerID }
func SubscriptionRefKey(provider string) string { return provider + "." + metaSubscriptionID }

// Provider returns the recurring provider the tenant is attached to.
func (s *Subscription) Provider() string { return s.ProviderMetadata[metaProvider] }

func (s *Subscription) CustomerRef(provider string) string {
	return s.ProviderMetadata[CustomerRefKey(provider)]
}

func (s *Subscription) SubscriptionRef(provider string) string {
	return s.ProviderMetadata[SubscriptionRefKey(provider)]
}

func (s *Subscription) setRefs(provider, customerRef, subscriptionRef string) {
	if s.ProviderMetadata == nil {
		s.ProviderMetadata = make(map[string]string)
	}
	if customerRef == "" && subscriptionRef == "" {
		return
	}
	s.ProviderMetadata[metaProvider] = provider
	if customerRef != "" {
		s.ProviderMetadata[CustomerRefKey(provider)] = customerRef
	}
	if subscriptionRef != "" {
		s.ProviderMetadata[SubscriptionRefKey(provider)] = subscriptionRef
	}
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.LastEventAt = cloneTime(s.LastEventAt)
	c.ProviderMetadata = maps.Clone(s.ProviderMetadata)
	return &c
}

// sameState compares everything except bookkeeping fields.
func sameState(a, b *Subscription) bool {
	return a.PlanID == b.PlanID &&
		a.Status == b.Status &&
		equalTime(a.CurrentPeriodStart, b.CurrentPeriodStart) &&
		equalTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		equalTime(a.TrialEndsAt, b.TrialEndsAt) &&
		equalTime(a.CancelledAt, b.CancelledAt) &&
		maps.Equal(a.ProviderMetadata, b.ProviderMetadata)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
