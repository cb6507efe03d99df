// Package redis opens the go-redis client used by the webhook deduplication
// ledger and exposes a readiness probe for it.
package redis
