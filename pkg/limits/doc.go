// Package limits gates tenant operations behind plan limits, plan features
// and subscription status.
//
// The decisions themselves are pure functions:
//
//	err := limits.Check(sub, plan, limits.ResourceProperties, usage)
//	var reached *limits.LimitReachedError
//	if errors.As(err, &reached) {
//	    // render upgrade prompt with reached.CurrentUsage / reached.MaxAllowed
//	}
//
// Check rejects with *SubscriptionInactiveError unless the subscription is in
// trial or active, and with *LimitReachedError once usage reaches the limit.
// Unlimited (-1) never rejects. CheckFeature rejects with
// *FeatureNotAvailableError. Tenants without a subscription record get
// DefaultTrialPlan.
//
// Enforcer gathers the inputs (subscription, plan, usage) from its
// collaborators and applies the decisions:
//
//	catalog, err := limits.NewCatalog(ctx, limits.NewYAMLSource("plans.yaml"))
//	counters := limits.NewRegistry()
//	counters.Register(limits.ResourceUsers, countUsers)
//	enforcer := limits.NewEnforcer(subscriptions, catalog, counters)
//
//	if err := enforcer.CanCreate(ctx, tenantID, limits.ResourceUsers); err != nil {
//	    body, ok := limits.DecisionBody(err) // 403 body when ok
//	}
package limits
