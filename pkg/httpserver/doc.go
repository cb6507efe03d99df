// Package httpserver runs the billing HTTP surface with graceful shutdown.
//
// Run blocks until the context is cancelled or SIGINT/SIGTERM arrives and
// then drains in-flight requests (webhook deliveries included) within the
// configured shutdown timeout. HealthHandler exposes liveness and readiness
// probes backed by named dependency checks (Postgres, Redis).
package httpserver
