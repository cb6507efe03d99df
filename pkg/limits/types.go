package limits

// Resource represents a countable tenant resource type.
type Resource string

// Gated resource types.
const (
	ResourceUsers        Resource = "users"
	ResourceProperties   Resource = "properties"
	ResourceIntegrations Resource = "integrations"
)

// Resources lists every gated resource in display order.
var Resources = []Resource{ResourceUsers, ResourceProperties, ResourceIntegrations}

func (r Resource) Valid() bool {
	switch r {
	case ResourceUsers, ResourceProperties, ResourceIntegrations:
		return true
	}
	return false
}

// Unlimited represents a resource with no limit.
const Unlimited int64 = -1

// Feature is a plan-specific capability.
type Feature string

const (
	FeatureBasic      Feature = "basic"
	FeaturePortalSync Feature = "portal_sync" // listing syndication to real-estate portals
	FeatureContracts  Feature = "contracts"
	FeatureFinance    Feature = "finance"
	FeatureAPI        Feature = "api"
)

// UsageInfo contains the current usage and limit for a resource.
type UsageInfo struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

// Remaining returns how many more instances fit, or Unlimited.
func (u UsageInfo) Remaining() int64 {
	if u.Limit == Unlimited {
		return Unlimited
	}
	return max(u.Limit-u.Current, 0)
}
