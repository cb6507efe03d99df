package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store persists Subscription records.
//
// Save inserts when sub.Version is zero and otherwise updates only when the
// stored version equals sub.Version, returning ErrVersionConflict if it does
// not. On success the store increments sub.Version in place.
type Store interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// FindTenant returns the tenant whose ProviderMetadata[key] equals value,
	// or ErrSubscriptionNotFound.
	FindTenant(ctx context.Context, key, value string) (uuid.UUID, error)
	Save(ctx context.Context, sub *Subscription) error
}
