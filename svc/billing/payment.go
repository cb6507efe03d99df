package billing

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imobcloud/billing/pkg/payment"
)

// Payment is the local record of a one-off charge.
type Payment struct {
	ID             uuid.UUID         `json:"id"`
	TenantID       uuid.UUID         `json:"tenant_id"`
	Provider       string            `json:"provider"`
	ExternalID     string            `json:"external_id"`
	Method         payment.Method    `json:"method"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description"`
	Status         string            `json:"status"`
	StatusDetail   string            `json:"status_detail,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
	IdempotencyKey string            `json:"-"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty"`
	// LastEventAt is the provider time of the newest webhook applied.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// apply copies the provider view onto the record. It reports whether
// anything changed.
func (p *Payment) apply(res *payment.PaymentResult) bool {
	changed := p.Status != res.Status || p.StatusDetail != res.StatusDetail
	p.Status = res.Status
	p.StatusDetail = res.StatusDetail
	if res.ApprovedAt != nil && p.ApprovedAt == nil {
		t := *res.ApprovedAt
		p.ApprovedAt = &t
		changed = true
	}
	if len(res.Extras) > 0 {
		if p.Extras == nil {
			p.Extras = make(map[string]string, len(res.Extras))
		}
		for k, v := range res.Extras {
			if p.Extras[k] != v {
				p.Extras[k] = v
				changed = true
			}
		}
	}
	return changed
}

// PaymentStore persists Payment records. SavePayment inserts or updates by
// ID; the (Provider, ExternalID) pair is unique.
type PaymentStore interface {
	SavePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindPayment(ctx context.Context, provider, externalID string) (*Payment, error)
}

// MemoryPaymentStore is a PaymentStore for tests and single-process runs.
type MemoryPaymentStore struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Payment
	external map[string]uuid.UUID
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{
		byID:     make(map[uuid.UUID]*Payment),
		external: make(map[string]uuid.UUID),
	}
}

func (s *MemoryPaymentStore) SavePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := clonePayment(p)
	s.byID[p.ID] = c
	if p.ExternalID != "" {
		s.external[p.Provider+":"+p.ExternalID] = p.ID
	}
	return nil
}

func (s *MemoryPaymentStore) GetPayment(_ context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *MemoryPaymentStore) FindPayment(_ context.Context, provider, externalID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.external[provider+":"+externalID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(s.byID[id]), nil
}

func clonePayment(p *Payment) *Payment {
	c := *p
	c.Extras = maps.Clone(p.Extras)
	if p.ApprovedAt != nil {
		t := *p.ApprovedAt
		c.ApprovedAt = &t
	}
	if p.LastEventAt != nil {
		t := *p.LastEventAt
		c.LastEventAt = &t
	}
	return &c
}
