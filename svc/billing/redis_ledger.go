package billing

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imobcloud/billing/pkg/subscription"
)

const redisLedgerPrefix = "billing:webhook:"

var _ subscription.Ledger = (*RedisLedger)(nil)

// RedisLedger is a subscription.Ledger shared by every billingd replica.
// Entries expire after the ledger TTL.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = subscription.DefaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	err := l.client.Get(ctx, redisLedgerKey(provider, eventID)).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, errors.Join(ErrLedgerUnavailable, err)
	}
	return true, nil
}

// Mark records the event with SET NX, so the first writer wins and the TTL
// of an existing entry is left alone.
func (l *RedisLedger) Mark(ctx context.Context, provider, eventID string) error {
	if err := l.client.SetNX(ctx, redisLedgerKey(provider, eventID), 1, l.ttl).Err(); err != nil {
		return errors.Join(ErrLedgerUnavailable, err)
	}
	return nil
}

func redisLedgerKey(provider, eventID string) string {
	return redisLedgerPrefix + provider + ":" + eventID
}
