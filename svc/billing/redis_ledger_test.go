package billing_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/subscription"
	"github.com/imobcloud/billing/svc/billing"
)

func TestRedisLedger(t *testing.T) {
	t.Parallel()

	newLedger := func(t *testing.T, ttl time.Duration) (*billing.RedisLedger, *miniredis.Miniredis) {
		t.Helper()
		srv := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return billing.NewRedisLedger(client, ttl), srv
	}

	t.Run("mark then seen", func(t *testing.T) {
		t.Parallel()
		l, srv := newLedger(t, time.Hour)

		seen, err := l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_1"))
		seen, err = l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)

		assert.True(t, srv.Exists("billing:webhook:stripe:evt_1"))
		assert.Equal(t, time.Hour, srv.TTL("billing:webhook:stripe:evt_1"))
	})

	t.Run("event ids are scoped by provider", func(t *testing.T) {
		t.Parallel()
		l, _ := newLedger(t, time.Hour)

		require.NoError(t, l.Mark(t.Context(), "stripe", "42"))
		seen, err := l.Seen(t.Context(), "mercadopago", "42")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()
		l, srv := newLedger(t, time.Minute)

		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_2"))
		srv.FastForward(2 * time.Minute)

		seen, err := l.Seen(t.Context(), "stripe", "evt_2")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("second mark keeps the original ttl", func(t *testing.T) {
		t.Parallel()
		l, srv := newLedger(t, time.Hour)

		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_3"))
		srv.FastForward(30 * time.Minute)
		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_3"))
		assert.Equal(t, 30*time.Minute, srv.TTL("billing:webhook:stripe:evt_3"))
	})

	t.Run("unavailable server", func(t *testing.T) {
		t.Parallel()
		l, srv := newLedger(t, time.Hour)
		srv.Close()

		_, err := l.Seen(t.Context(), "stripe", "evt_4")
		require.ErrorIs(t, err, billing.ErrLedgerUnavailable)
		require.ErrorIs(t, l.Mark(t.Context(), "stripe", "evt_4"), billing.ErrLedgerUnavailable)
	})

	t.Run("deduplicates subscription events", func(t *testing.T) {
		t.Parallel()
		l, _ := newLedger(t, time.Hour)

		store := subscription.NewMemoryStore()
		subs := subscription.NewService(store, subscription.WithLedger(l))
		tenantID := uuid.New()
		_, err := subs.Provision(t.Context(), tenantID, "basic", 0)
		require.NoError(t, err)

		ev := event.Event{Provider: event.ProviderStripe, ID: "evt_5", Type: event.InvoicePaymentFailed}
		res, err := subs.ApplyForTenant(t.Context(), tenantID, ev)
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeApplied, res.Outcome)

		res, err = subs.ApplyForTenant(t.Context(), tenantID, ev)
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeDuplicate, res.Outcome)
	})
}
