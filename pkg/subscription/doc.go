// Package subscription keeps the canonical per-tenant entitlement record and
// moves it through its lifecycle in response to normalized provider events.
//
// # Lifecycle
//
// A tenant starts in StatusTrial when it is provisioned; no provider call is
// needed for that. Provider events then move it along:
//
//	trial     -> trial | active | suspended | cancelled
//	active    -> active | suspended | cancelled
//	suspended -> active | suspended | cancelled
//	cancelled    (absorbing)
//
// The event-to-status table lives in machine.go and is built on
// pkg/statemachine. Events whose transition is not allowed from the current
// status are acknowledged and ignored.
//
// # Applying events
//
// Service.Apply resolves the tenant from the provider references stored in
// Subscription.ProviderMetadata, takes a per-tenant lock, drops duplicates
// through the Ledger and stale events through LastEventAt, and saves with an
// optimistic version check:
//
//	res, err := svc.Apply(ctx, ev)
//	switch {
//	case err != nil:
//		// *TenantResolutionError or storage failure
//	case res.Outcome == subscription.OutcomeApplied:
//		log.Info("subscription moved", "from", res.From, "to", res.To)
//	}
//
// MemoryStore and MemoryLedger are in-process implementations used by tests
// and single-node development setups.
package subscription
