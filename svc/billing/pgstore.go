package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/pg"
	"github.com/imobcloud/billing/pkg/subscription"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ subscription.Store  = (*PGStore)(nil)
	_ subscription.Ledger = (*PGStore)(nil)
	_ PaymentStore        = (*PGStore)(nil)
	_ limits.Source       = (*PGStore)(nil)
)

// PGStore keeps subscriptions, payments, plans and the webhook ledger in
// Postgres. The schema lives in internal/db/migrations.
type PGStore struct {
	q         Querier
	ledgerTTL time.Duration
}

type PGStoreOption func(*PGStore)

// WithPGLedgerTTL sets how long a processed event id counts as seen.
func WithPGLedgerTTL(ttl time.Duration) PGStoreOption {
	return func(s *PGStore) {
		if ttl > 0 {
			s.ledgerTTL = ttl
		}
	}
}

func NewPGStore(q Querier, opts ...PGStoreOption) *PGStore {
	if q == nil {
		panic("billing: querier is required")
	}
	s := &PGStore{q: q, ledgerTTL: subscription.DefaultLedgerTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const subscriptionColumns = `tenant_id, plan_id, status, current_period_start, current_period_end,
	trial_ends_at, cancelled_at, provider_metadata, version, last_event_at, created_at, updated_at`

func (s *PGStore) Get(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	row := s.q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *PGStore) FindTenant(ctx context.Context, key, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, subscription.ErrSubscriptionNotFound
	}
	filter, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return uuid.Nil, fmt.Errorf("find tenant: %w", err)
	}

	var tenantID uuid.UUID
	err = s.q.QueryRow(ctx,
		`SELECT tenant_id FROM subscriptions WHERE provider_metadata @> $1::jsonb LIMIT 1`,
		string(filter),
	).Scan(&tenantID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return uuid.Nil, subscription.ErrSubscriptionNotFound
		}
		return uuid.Nil, fmt.Errorf("find tenant: %w", err)
	}
	return tenantID, nil
}

// Save inserts version-zero records and otherwise updates with a
// compare-and-swap on version.
func (s *PGStore) Save(ctx context.Context, sub *subscription.Subscription) error {
	meta, err := json.Marshal(nonNilMap(sub.ProviderMetadata))
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if sub.Version == 0 {
		_, err := s.q.Exec(ctx,
			`INSERT INTO subscriptions (`+subscriptionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10, $11)`,
			sub.TenantID, sub.PlanID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.TrialEndsAt, sub.CancelledAt, meta, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
		)
		if err != nil {
			if pg.IsDuplicateKeyError(err) {
				return subscription.ErrSubscriptionAlreadyExists
			}
			return fmt.Errorf("insert subscription: %w", err)
		}
		sub.Version = 1
		return nil
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE subscriptions SET
			plan_id = $3, status = $4, current_period_start = $5, current_period_end = $6,
			trial_ends_at = $7, cancelled_at = $8, provider_metadata = $9, last_event_at = $10,
			updated_at = $11, version = version + 1
		 WHERE tenant_id = $1 AND version = $2`,
		sub.TenantID, sub.Version, sub.PlanID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialEndsAt, sub.CancelledAt, meta, sub.LastEventAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE tenant_id = $1)`, sub.TenantID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if !exists {
			return subscription.ErrSubscriptionNotFound
		}
		return subscription.ErrVersionConflict
	}
	sub.Version++
	return nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
		meta   []byte
	)
	if err := row.Scan(
		&sub.TenantID, &sub.PlanID, &status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.TrialEndsAt, &sub.CancelledAt, &meta, &sub.Version, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = subscription.Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sub.ProviderMetadata); err != nil {
			return nil, fmt.Errorf("decode provider metadata: %w", err)
		}
	}
	return &sub, nil
}

// Seen reports whether the event was marked within the ledger TTL.
func (s *PGStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM webhook_events
			WHERE provider = $1 AND external_event_id = $2 AND processed_at > $3
		)`,
		provider, eventID, time.Now().Add(-s.ledgerTTL),
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return seen, nil
}

func (s *PGStore) Mark(ctx context.Context, provider, eventID string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO webhook_events (provider, external_event_id) VALUES ($1, $2)
		 ON CONFLICT (provider, external_event_id) DO UPDATE SET processed_at = NOW()`,
		provider, eventID,
	)
	if err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}
	return nil
}

// PruneLedger deletes ledger entries older than the TTL.
func (s *PGStore) PruneLedger(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM webhook_events WHERE processed_at <= $1`,
		time.Now().Add(-s.ledgerTTL),
	)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}

const paymentColumns = `id, tenant_id, provider, external_id, method, amount, currency, description,
	status, status_detail, extras, idempotency_key, approved_at, last_event_at, created_at, updated_at`

func (s *PGStore) SavePayment(ctx context.Context, p *Payment) error {
	extras, err := json.Marshal(nonNilMap(p.Extras))
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			status_detail = EXCLUDED.status_detail,
			extras = EXCLUDED.extras,
			approved_at = EXCLUDED.approved_at,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.TenantID, p.Provider, p.ExternalID, string(p.Method), p.Amount, p.Currency, p.Description,
		p.Status, p.StatusDetail, extras, p.IdempotencyKey, p.ApprovedAt, p.LastEventAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (s *PGStore) GetPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	return s.queryPayment(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
}

func (s *PGStore) FindPayment(ctx context.Context, provider, externalID string) (*Payment, error) {
	return s.queryPayment(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	)
}

func (s *PGStore) queryPayment(ctx context.Context, sql string, args ...any) (*Payment, error) {
	var (
		p      Payment
		method string
		extras []byte
	)
	err := s.q.QueryRow(ctx, sql, args...).Scan(
		&p.ID, &p.TenantID, &p.Provider, &p.ExternalID, &method, &p.Amount, &p.Currency, &p.Description,
		&p.Status, &p.StatusDetail, &extras, &p.IdempotencyKey, &p.ApprovedAt, &p.LastEventAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Method = payment.Method(method)
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &p.Extras); err != nil {
			return nil, fmt.Errorf("decode payment extras: %w", err)
		}
	}
	return &p, nil
}

// Load implements limits.Source over the active rows of the plans table.
func (s *PGStore) Load(ctx context.Context) (map[string]limits.Plan, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, description, limits, features, public, trial_days, price, currency, provider_prices
		 FROM plans WHERE active ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	plans := make(map[string]limits.Plan)
	for rows.Next() {
		var (
			p        limits.Plan
			rawLimit []byte
			features []string
			prices   []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &rawLimit, &features, &p.Public,
			&p.TrialDays, &p.Price, &p.Currency, &prices); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if err := json.Unmarshal(rawLimit, &p.Limits); err != nil {
			return nil, fmt.Errorf("plan %q limits: %w", p.ID, err)
		}
		if err := json.Unmarshal(prices, &p.ProviderPrices); err != nil {
			return nil, fmt.Errorf("plan %q provider prices: %w", p.ID, err)
		}
		for _, f := range features {
			p.Features = append(p.Features, limits.Feature(f))
		}
		plans[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	return plans, nil
}

// UsageCounters returns a registry counting rows per tenant in the given
// tables. Table names are quoted as identifiers; the map comes from
// configuration, never from requests.
func (s *PGStore) UsageCounters(tables map[limits.Resource]string) (limits.CounterRegistry, error) {
	reg := limits.NewRegistry()
	for res, table := range tables {
		if !res.Valid() {
			return nil, fmt.Errorf("%w: %q", limits.ErrInvalidResource, res)
		}
		if table == "" {
			return nil, fmt.Errorf("usage table for %q is empty", res)
		}
		sql := `SELECT COUNT(*) FROM ` + pgx.Identifier{table}.Sanitize() + ` WHERE tenant_id = $1`
		reg.Register(res, func(ctx context.Context, tenantID uuid.UUID) (int64, error) {
			var n int64
			if err := s.q.QueryRow(ctx, sql, tenantID).Scan(&n); err != nil {
				return 0, fmt.Errorf("count %s: %w", res, err)
			}
			return n, nil
		})
	}
	return reg, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
