package limits

import (
	"errors"
	"fmt"

	"github.com/imobcloud/billing/pkg/subscription"
)

// Domain errors for limits operations
var (
	ErrPlanNotFound             = errors.New("limits: plan not found")
	ErrInvalidPlanConfiguration = errors.New("limits: invalid plan configuration")
	ErrInvalidResource          = errors.New("limits: unknown resource")
	ErrFailedToLoadPlans        = errors.New("limits: failed to load plans")
	ErrFailedToCountUsage       = errors.New("limits: failed to count resource usage")
	ErrNoCounterRegistered      = errors.New("limits: no counter registered for resource")
	ErrDowngradeNotPossible     = errors.New("limits: current usage does not fit the target plan")
)

// Enforcement decisions. They are expected outcomes, returned as errors so
// callers can short-circuit; match them with errors.Is or errors.As.
var (
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrLimitReached         = errors.New("limit_reached")
	ErrFeatureNotAvailable  = errors.New("feature_not_available")
)

// SubscriptionInactiveError rejects every gated operation of a tenant whose
// subscription is suspended or cancelled.
type SubscriptionInactiveError struct {
	Status subscription.Status
}

func (e *SubscriptionInactiveError) Error() string {
	return fmt.Sprintf("subscription is %s", e.Status)
}

func (e *SubscriptionInactiveError) Unwrap() error { return ErrSubscriptionInactive }

// LimitReachedError carries the numbers needed for an upgrade prompt.
type LimitReachedError struct {
	Resource     Resource
	CurrentUsage int64
	MaxAllowed   int64
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("%s limit reached: %d of %d", e.Resource, e.CurrentUsage, e.MaxAllowed)
}

func (e *LimitReachedError) Unwrap() error { return ErrLimitReached }

type FeatureNotAvailableError struct {
	Feature Feature
}

func (e *FeatureNotAvailableError) Error() string {
	return fmt.Sprintf("feature %s is not available on the current plan", e.Feature)
}

func (e *FeatureNotAvailableError) Unwrap() error { return ErrFeatureNotAvailable }

// IsEnforcement reports whether err is one of the enforcement decisions.
func IsEnforcement(err error) bool {
	return errors.Is(err, ErrSubscriptionInactive) ||
		errors.Is(err, ErrLimitReached) ||
		errors.Is(err, ErrFeatureNotAvailable)
}
