package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrVersionConflict           = errors.New("subscription was modified concurrently")
	ErrTenantNotResolved         = errors.New("event does not match any tenant")
	ErrInvalidPlan               = errors.New("plan id is required")
)

// TenantResolutionError means an event references provider objects that no
// tenant owns. It is a hard failure: the event is not retried locally.
type TenantResolutionError struct {
	Provider        string
	CustomerRef     string
	SubscriptionRef string
}

func (e *TenantResolutionError) Error() string {
	return fmt.Sprintf("no tenant for %s customer %q (subscription %q)", e.Provider, e.CustomerRef, e.SubscriptionRef)
}

func (e *TenantResolutionError) Unwrap() error { return ErrTenantNotResolved }
