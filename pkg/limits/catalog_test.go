package limits_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/limits"
)

const catalogYAML = `
plans:
  - id: basic
    name: Básico
    price: "79.90"
    currency: BRL
    trial_days: 14
    public: true
    limits: {users: 3, properties: 100, integrations: 1}
    features: [basic]
    provider_prices: {stripe: price_basic, paddle: pri_basic}
  - id: pro
    name: Pro
    price: "149.90"
    currency: BRL
    limits: {users: 10, properties: -1, integrations: 5}
    features: [basic, portal_sync, contracts, finance]
    provider_prices: {stripe: price_pro}
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	t.Run("valid catalog", func(t *testing.T) {
		t.Parallel()
		plans, err := limits.ParseYAML(strings.NewReader(catalogYAML))
		require.NoError(t, err)
		require.Len(t, plans, 2)

		basic := plans["basic"]
		assert.Equal(t, "Básico", basic.Name)
		assert.True(t, basic.Price.Equal(decimal.RequireFromString("79.90")))
		assert.Equal(t, 14, basic.TrialDays)
		assert.Equal(t, int64(100), basic.Limit(limits.ResourceProperties))
		assert.Equal(t, "pri_basic", basic.ProviderPrices["paddle"])
		assert.Equal(t, limits.Unlimited, plans["pro"].Limit(limits.ResourceProperties))
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := limits.ParseYAML(strings.NewReader("plans:\n  - id: x\n    seats: 3\n"))
		assert.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		_, err := limits.ParseYAML(strings.NewReader("plans:\n  - id: x\n  - id: x\n"))
		assert.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration)
	})

	t.Run("bad price", func(t *testing.T) {
		t.Parallel()
		_, err := limits.ParseYAML(strings.NewReader("plans:\n  - id: x\n    price: abc\n"))
		assert.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration)
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		plans, err := limits.ParseYAML(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, plans)
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	t.Run("from yaml file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

		catalog, err := limits.NewCatalog(t.Context(), limits.NewYAMLSource(path))
		require.NoError(t, err)

		plans := catalog.Plans()
		require.Len(t, plans, 2)
		assert.Equal(t, "basic", plans[0].ID)
		assert.Equal(t, "pro", plans[1].ID)

		id, ok := catalog.PlanForPrice("stripe", "price_pro")
		assert.True(t, ok)
		assert.Equal(t, "pro", id)
		_, ok = catalog.PlanForPrice("paddle", "price_pro")
		assert.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := limits.NewCatalog(t.Context(), limits.NewYAMLSource(filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorIs(t, err, limits.ErrFailedToLoadPlans)
	})

	t.Run("plan lookup", func(t *testing.T) {
		t.Parallel()
		catalog, err := limits.NewCatalog(t.Context(), limits.NewInMemSource(proPlan()))
		require.NoError(t, err)

		p, err := catalog.Plan(t.Context(), "pro")
		require.NoError(t, err)
		assert.Equal(t, "Pro", p.Name)

		// returned plans are copies
		p.Limits[limits.ResourceUsers] = 999
		again, err := catalog.Plan(t.Context(), "pro")
		require.NoError(t, err)
		assert.Equal(t, int64(10), again.Limit(limits.ResourceUsers))

		trial, err := catalog.Plan(t.Context(), limits.TrialPlanID)
		require.NoError(t, err)
		assert.Equal(t, limits.DefaultTrialPlan(), trial)

		_, err = catalog.Plan(t.Context(), "enterprise")
		assert.ErrorIs(t, err, limits.ErrPlanNotFound)
	})

	t.Run("known subjects", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
		catalog, err := limits.NewCatalog(t.Context(), limits.NewYAMLSource(path))
		require.NoError(t, err)

		assert.True(t, catalog.Known("users"))
		assert.True(t, catalog.Known("integrations"))
		assert.True(t, catalog.Known(string(limits.FeatureBasic)))
		assert.True(t, catalog.Known(string(limits.FeatureFinance)))
		assert.False(t, catalog.Known(string(limits.FeatureAPI)))
		assert.False(t, catalog.Known("../../etc/passwd"))
	})

	t.Run("rejects invalid plans", func(t *testing.T) {
		t.Parallel()
		bad := []limits.Plan{
			{ID: "neg-trial", TrialDays: -1},
			{ID: "neg-price", Price: decimal.NewFromInt(-1)},
			{ID: "bad-res", Limits: map[limits.Resource]int64{"projects": 1}},
			{ID: "bad-limit", Limits: map[limits.Resource]int64{limits.ResourceUsers: -5}},
		}
		for _, p := range bad {
			_, err := limits.NewCatalog(t.Context(), limits.NewInMemSource(p))
			assert.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration, p.ID)
		}
	})

	t.Run("rejects shared provider price", func(t *testing.T) {
		t.Parallel()
		_, err := limits.NewCatalog(t.Context(), limits.NewInMemSource(
			limits.Plan{ID: "a", ProviderPrices: map[string]string{"stripe": "price_1"}},
			limits.Plan{ID: "b", ProviderPrices: map[string]string{"stripe": "price_1"}},
		))
		assert.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration)
	})
}
