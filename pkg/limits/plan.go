package limits

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Plan describes a subscription plan and its resource/feature constraints.
type Plan struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Limits      map[Resource]int64 `json:"limits"`   // missing resources are not allowed at all
	Features    []Feature          `json:"features"` // feature flags enabled for this plan
	Public      bool               `json:"public"`   // available for self-service signup
	TrialDays   int                `json:"trial_days"`
	Price       decimal.Decimal    `json:"price"` // monthly price
	Currency    string             `json:"currency"`
	// ProviderPrices maps a provider name to the provider's price/plan id.
	ProviderPrices map[string]string `json:"provider_prices,omitempty"`
}

// TrialPlanID is the id of DefaultTrialPlan.
const TrialPlanID = "trial"

// DefaultTrialPlan applies to tenants that have no subscription record yet.
func DefaultTrialPlan() Plan {
	return Plan{
		ID:   TrialPlanID,
		Name: "Trial",
		Limits: map[Resource]int64{
			ResourceUsers:        2,
			ResourceProperties:   10,
			ResourceIntegrations: 0,
		},
		Features: []Feature{FeatureBasic},
		Currency: "BRL",
	}
}

// Limit returns the plan limit for res. Resources the plan does not list
// have a limit of zero.
func (p Plan) Limit(res Resource) int64 {
	return p.Limits[res]
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// TrialEndsAt returns the timestamp when a trial period ends for this plan.
// If no trial is available, returns startedAt.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

func (p Plan) clone() Plan {
	c := p
	c.Limits = maps.Clone(p.Limits)
	c.Features = slices.Clone(p.Features)
	c.ProviderPrices = maps.Clone(p.ProviderPrices)
	return c
}

// PlanComparison contains the differences between two plans.
type PlanComparison struct {
	// Features gained in the target plan
	NewFeatures []Feature `json:"new_features"`
	// Features lost from the current plan
	LostFeatures []Feature `json:"lost_features"`
	// Resources with increased limits (old limit -> new limit)
	IncreasedLimits map[Resource]ResourceChange `json:"increased_limits"`
	// Resources with decreased limits (old limit -> new limit)
	DecreasedLimits map[Resource]ResourceChange `json:"decreased_limits"`
}

// ResourceChange represents a change in resource limit.
type ResourceChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HasResourceDecreases returns true if any resources have decreased limits.
func (c *PlanComparison) HasResourceDecreases() bool {
	return len(c.DecreasedLimits) > 0
}

// ComparePlans returns the differences between current and target plans.
// A resource missing from a plan counts as a limit of zero.
func ComparePlans(current, target Plan) *PlanComparison {
	comparison := &PlanComparison{
		NewFeatures:     make([]Feature, 0),
		LostFeatures:    make([]Feature, 0),
		IncreasedLimits: make(map[Resource]ResourceChange),
		DecreasedLimits: make(map[Resource]ResourceChange),
	}

	for _, feature := range target.Features {
		if !slices.Contains(current.Features, feature) {
			comparison.NewFeatures = append(comparison.NewFeatures, feature)
		}
	}
	for _, feature := range current.Features {
		if !slices.Contains(target.Features, feature) {
			comparison.LostFeatures = append(comparison.LostFeatures, feature)
		}
	}

	for _, res := range Resources {
		from, to := current.Limit(res), target.Limit(res)
		if from == to {
			continue
		}
		change := ResourceChange{From: from, To: to}
		switch {
		case from == Unlimited:
			// unlimited to limited
			comparison.DecreasedLimits[res] = change
		case to == Unlimited, to > from:
			comparison.IncreasedLimits[res] = change
		default:
			comparison.DecreasedLimits[res] = change
		}
	}

	return comparison
}
