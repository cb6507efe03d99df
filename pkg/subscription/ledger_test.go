package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/subscription"
)

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	t.Run("marks per provider", func(t *testing.T) {
		t.Parallel()
		l := subscription.NewMemoryLedger()

		seen, err := l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_1"))

		seen, err = l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)

		seen, err = l.Seen(t.Context(), "mercadopago", "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("expires entries", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		l := subscription.NewMemoryLedger(
			subscription.WithLedgerTTL(time.Hour),
			subscription.WithLedgerClock(func() time.Time { return now }),
		)
		require.NoError(t, l.Mark(t.Context(), "stripe", "evt_1"))

		now = now.Add(59 * time.Minute)
		seen, err := l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)

		now = now.Add(time.Minute)
		seen, err = l.Seen(t.Context(), "stripe", "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}
