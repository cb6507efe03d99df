package subscription

import (
	"context"
	"sync"
	"time"
)

// Ledger records processed provider event ids so redeliveries are
// acknowledged without being applied twice.
type Ledger interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Mark(ctx context.Context, provider, eventID string) error
}

// DefaultLedgerTTL covers the redelivery window of the supported providers.
const DefaultLedgerTTL = 7 * 24 * time.Hour

// MemoryLedger is an in-process Ledger with per-entry expiry.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

// MemoryLedgerOption configures a MemoryLedger.
type MemoryLedgerOption func(*MemoryLedger)

func WithLedgerTTL(ttl time.Duration) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLedgerClock(now func() time.Time) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	l := &MemoryLedger{
		ttl:     DefaultLedgerTTL,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) Seen(_ context.Context, provider, eventID string) (bool, error) {
	key := ledgerKey(provider, eventID)

	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.entries[key]
	if !ok {
		return false, nil
	}
	if !l.now().Before(exp) {
		delete(l.entries, key)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Mark(_ context.Context, provider, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// sweep expired entries opportunistically
	for k, exp := range l.entries {
		if !now.Before(exp) {
			delete(l.entries, k)
		}
	}
	l.entries[ledgerKey(provider, eventID)] = now.Add(l.ttl)
	return nil
}

func ledgerKey(provider, eventID string) string { return provider + ":" + eventID }
