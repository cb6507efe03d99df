package limits

import (
	"context"
	"sync"
)

// Source defines how plans are loaded into a Catalog.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// inMemSource implements the Source interface using an in-memory plan map.
type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory Source with a deep copy of the given
// plans, keyed by plan id.
func NewInMemSource(plans ...Plan) Source {
	plansCopy := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		plansCopy[plan.ID] = plan.clone()
	}
	return &inMemSource{plans: plansCopy}
}

// Load returns a copy of all available plans from memory.
func (s *inMemSource) Load(context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plansCopy := make(map[string]Plan, len(s.plans))
	for id, plan := range s.plans {
		plansCopy[id] = plan.clone()
	}
	return plansCopy, nil
}
