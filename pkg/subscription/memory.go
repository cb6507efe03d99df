package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) Get(_ context.Context, tenantID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) FindTenant(_ context.Context, key, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, ErrSubscriptionNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, sub := range m.subs {
		if sub.ProviderMetadata[key] == value {
			return id, nil
		}
	}
	return uuid.Nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) Save(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.subs[sub.TenantID]
	switch {
	case sub.Version == 0 && exists:
		return ErrSubscriptionAlreadyExists
	case sub.Version != 0 && !exists:
		return ErrSubscriptionNotFound
	case exists && current.Version != sub.Version:
		return ErrVersionConflict
	}

	sub.Version++
	m.subs[sub.TenantID] = sub.Clone()
	return nil
}
