package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/webhook"
)

// run executes the root command; commands share package state, so tests
// here do not run in parallel.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSignWebhookCmd(t *testing.T) {
	out, err := run(t, "sign-webhook", "--secret", "s3cret", "--data-id", "123", "--request-id", "req-1", "--ts", "1740830400")
	require.NoError(t, err)

	assert.Contains(t, out, "X-Signature: "+webhook.SignMercadoPago("s3cret", "123", "req-1", 1740830400))
	assert.Contains(t, out, "X-Request-Id: req-1")

	_, err = run(t, "sign-webhook", "--secret", "", "--data-id", "1")
	require.Error(t, err)
}

func TestPlansValidateCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`plans:
  - id: basic
    name: Basic
    price: "99.90"
    currency: BRL
    limits: {users: 3, properties: 50, integrations: 0}
    features: [basic]
  - id: pro
    name: Pro
    price: "299.90"
    currency: BRL
    trial_days: 7
    limits: {users: 10, properties: -1, integrations: 5}
    features: [basic, portal_sync, contracts]
    provider_prices: {stripe: price_pro}
`), 0o600))

	out, err := run(t, "plans", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "99.90 BRL")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "basic,portal_sync,contracts")
	assert.Contains(t, out, "plans OK")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("plans:\n  - name: no id\n"), 0o600))
	_, err = run(t, "plans", "validate", bad)
	require.ErrorIs(t, err, limits.ErrInvalidPlanConfiguration)
}

func TestVersionCmd(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.2.3"

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "billingd 1.2.3")
}

func TestUsageTables(t *testing.T) {
	got := usageTables(map[string]string{"users": "team_members", "properties": "listings"})
	assert.Equal(t, map[limits.Resource]string{
		limits.ResourceUsers:      "team_members",
		limits.ResourceProperties: "listings",
	}, got)
}
