package limits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UsageCounter counts a tenant's current instances of a resource.
type UsageCounter interface {
	CountUsage(ctx context.Context, tenantID uuid.UUID, res Resource) (int64, error)
}

// CounterFunc returns the current usage for a tenant resource.
// Should be fast: cache or aggregate at repository level.
type CounterFunc func(ctx context.Context, tenantID uuid.UUID) (int64, error)

// CounterRegistry maps a Resource to its CounterFunc.
// Not thread-safe: register all counters at startup only.
type CounterRegistry map[Resource]CounterFunc

// NewRegistry returns a new, empty CounterRegistry.
func NewRegistry() CounterRegistry {
	return make(CounterRegistry)
}

// Register sets or replaces the CounterFunc for the given resource. Panics if fn is nil.
func (r CounterRegistry) Register(res Resource, fn CounterFunc) {
	if fn == nil {
		panic(fmt.Sprintf("limits: CounterFunc for resource %q cannot be nil", res))
	}
	r[res] = fn
}

// CountUsage implements UsageCounter.
func (r CounterRegistry) CountUsage(ctx context.Context, tenantID uuid.UUID, res Resource) (int64, error) {
	fn, ok := r[res]
	if !ok {
		return 0, errors.Join(ErrNoCounterRegistered, fmt.Errorf("resource %q", res))
	}
	return fn(ctx, tenantID)
}
