// Package alert is the observability side channel of the billing core.
//
// Webhook processing failures are never returned to the provider (deliveries
// are always acknowledged); they are handed to a Reporter instead:
//
//	reporter := alert.Multi(
//	    alert.NewLogReporter(log),
//	    alert.MustNewPostmarkReporter(cfg),
//	)
//	reporter.Report(ctx, alert.Incident{
//	    Provider:  "stripe",
//	    Operation: "webhook",
//	    EventID:   ev.ID,
//	    Err:       err,
//	})
//
// Metrics holds the Prometheus collectors for webhook deliveries, provider
// calls and enforcement decisions.
package alert
