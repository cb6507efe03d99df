package limits

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Catalog is the validated set of plans loaded from a Source.
type Catalog struct {
	src Source

	mu      sync.RWMutex
	plans    map[string]Plan
	byPrice  map[string]string // "<provider>:<price ref>" -> plan id
	features map[Feature]struct{}
}

// NewCatalog loads and validates the plans of src.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	c := &Catalog{src: src}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the source. On error the previous plans stay in place.
func (c *Catalog) Reload(ctx context.Context) error {
	plans, err := c.src.Load(ctx)
	if err != nil {
		return errors.Join(ErrFailedToLoadPlans, err)
	}
	if plans == nil {
		plans = make(map[string]Plan)
	}
	if err := validatePlans(plans); err != nil {
		return err
	}

	byPrice := make(map[string]string)
	features := make(map[Feature]struct{})
	for _, f := range DefaultTrialPlan().Features {
		features[f] = struct{}{}
	}
	for id, p := range plans {
		for _, f := range p.Features {
			features[f] = struct{}{}
		}
		for provider, ref := range p.ProviderPrices {
			key := provider + ":" + ref
			if other, dup := byPrice[key]; dup {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("%s price %q used by plans %q and %q", provider, ref, other, id))
			}
			byPrice[key] = id
		}
	}

	c.mu.Lock()
	c.plans, c.byPrice, c.features = plans, byPrice, features
	c.mu.Unlock()
	return nil
}

// Plan returns the plan with the given id. The trial plan id resolves to
// DefaultTrialPlan unless the catalog overrides it.
func (c *Catalog) Plan(_ context.Context, planID string) (Plan, error) {
	c.mu.RLock()
	p, ok := c.plans[planID]
	c.mu.RUnlock()
	if ok {
		return p.clone(), nil
	}
	if planID == TrialPlanID {
		return DefaultTrialPlan(), nil
	}
	return Plan{}, errors.Join(ErrPlanNotFound, fmt.Errorf("plan %q", planID))
}

// Plans returns all plans sorted by price, then id.
func (c *Catalog) Plans() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, id := range slices.Sorted(maps.Keys(c.plans)) {
		out = append(out, c.plans[id].clone())
	}
	slices.SortStableFunc(out, func(a, b Plan) int { return a.Price.Cmp(b.Price) })
	return out
}

// PlanForPrice maps a provider price reference back to a plan id.
func (c *Catalog) PlanForPrice(provider, ref string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byPrice[provider+":"+ref]
	return id, ok
}

// Known reports whether subject is a gated resource or a feature granted by
// at least one plan.
func (c *Catalog) Known(subject string) bool {
	if Resource(subject).Valid() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.features[Feature(subject)]
	return ok
}

// validatePlans checks plan configurations for validity.
func validatePlans(plans map[string]Plan) error {
	var errs []error
	for _, planID := range slices.Sorted(maps.Keys(plans)) {
		plan := plans[planID]
		if plan.ID != planID {
			errs = append(errs, fmt.Errorf("plan %s: id mismatch %q", planID, plan.ID))
		}
		if plan.TrialDays < 0 {
			errs = append(errs, fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}
		if plan.Price.IsNegative() {
			errs = append(errs, fmt.Errorf("plan %s has negative price", planID))
		}
		for res, limit := range plan.Limits {
			if !res.Valid() {
				errs = append(errs, fmt.Errorf("plan %s: unknown resource %q", planID, res))
			}
			if limit < Unlimited {
				errs = append(errs, fmt.Errorf("plan %s: invalid %s limit %d", planID, res, limit))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlanConfiguration}, errs...)...)
	}
	return nil
}
