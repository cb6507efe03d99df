package limits

import (
	"errors"

	"github.com/imobcloud/billing/pkg/subscription"
)

// Check decides whether a tenant may create one more instance of res. It is
// a pure function of its inputs: nil means allow. A nil sub stands for a
// tenant that has not been provisioned yet and is treated as a trial.
func Check(sub *subscription.Subscription, plan Plan, res Resource, usage int64) error {
	if err := checkStatus(sub); err != nil {
		return err
	}
	limit := plan.Limit(res)
	if limit == Unlimited {
		return nil
	}
	if usage >= limit {
		return &LimitReachedError{Resource: res, CurrentUsage: usage, MaxAllowed: limit}
	}
	return nil
}

// CheckFeature decides whether the plan grants feature f.
func CheckFeature(sub *subscription.Subscription, plan Plan, f Feature) error {
	if err := checkStatus(sub); err != nil {
		return err
	}
	if !plan.HasFeature(f) {
		return &FeatureNotAvailableError{Feature: f}
	}
	return nil
}

func checkStatus(sub *subscription.Subscription) error {
	if sub == nil || sub.Status.Entitled() {
		return nil
	}
	return &SubscriptionInactiveError{Status: sub.Status}
}

// Decision is the structured body returned with a 403 for a rejected
// operation.
type Decision struct {
	Error        string              `json:"error"`
	Message      string              `json:"message"`
	Status       subscription.Status `json:"status,omitempty"`
	Resource     Resource            `json:"resource,omitempty"`
	CurrentUsage *int64              `json:"current_usage,omitempty"`
	MaxAllowed   *int64              `json:"max_allowed,omitempty"`
	Feature      Feature             `json:"feature,omitempty"`
}

// DecisionBody converts an enforcement error into its response body. ok is
// false when err is not an enforcement decision.
func DecisionBody(err error) (body Decision, ok bool) {
	var (
		inactive *SubscriptionInactiveError
		limit    *LimitReachedError
		feature  *FeatureNotAvailableError
	)
	switch {
	case errors.As(err, &inactive):
		return Decision{
			Error:   ErrSubscriptionInactive.Error(),
			Message: inactive.Error(),
			Status:  inactive.Status,
		}, true
	case errors.As(err, &limit):
		return Decision{
			Error:        ErrLimitReached.Error(),
			Message:      limit.Error(),
			Resource:     limit.Resource,
			CurrentUsage: &limit.CurrentUsage,
			MaxAllowed:   &limit.MaxAllowed,
		}, true
	case errors.As(err, &feature):
		return Decision{
			Error:   ErrFeatureNotAvailable.Error(),
			Message: feature.Error(),
			Feature: feature.Feature,
		}, true
	}
	return Decision{}, false
}
