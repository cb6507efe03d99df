package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/config"
)

type gatewayConfig struct {
	APIKey        string        `env:"API_KEY,required"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	AllowUnsigned bool          `env:"ALLOW_UNSIGNED" envDefault:"false"`
}

type cachedConfig struct {
	Value string `env:"BILLING_CONFIG_CACHED_VALUE" envDefault:"fallback"`
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("reads explicit environment", func(t *testing.T) {
		t.Parallel()
		var cfg gatewayConfig
		err := config.Parse(&cfg, config.WithEnvironment(map[string]string{
			"API_KEY":        "sk_test_123",
			"WEBHOOK_SECRET": "whsec",
			"ALLOW_UNSIGNED": "true",
		}))
		require.NoError(t, err)
		assert.Equal(t, "sk_test_123", cfg.APIKey)
		assert.Equal(t, "whsec", cfg.WebhookSecret)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.True(t, cfg.AllowUnsigned)
	})

	t.Run("applies prefix", func(t *testing.T) {
		t.Parallel()
		var cfg gatewayConfig
		err := config.Parse(&cfg,
			config.WithPrefix("MP_"),
			config.WithEnvironment(map[string]string{"MP_API_KEY": "token", "MP_TIMEOUT": "3s"}),
		)
		require.NoError(t, err)
		assert.Equal(t, "token", cfg.APIKey)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
	})

	t.Run("missing required value", func(t *testing.T) {
		t.Parallel()
		var cfg gatewayConfig
		err := config.Parse(&cfg, config.WithEnvironment(map[string]string{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, config.Parse[gatewayConfig](nil), config.ErrNilPointer)
	})
}

func TestLoad_Caches(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("BILLING_CONFIG_CACHED_VALUE", "first")
	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("BILLING_CONFIG_CACHED_VALUE", "second")
	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)

	config.Reset()
	var third cachedConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, "second", third.Value)
}

func TestMustLoad_Panics(t *testing.T) {
	type required struct {
		Value string `env:"BILLING_CONFIG_MUST_EXIST,required"`
	}
	os.Unsetenv("BILLING_CONFIG_MUST_EXIST")
	config.Reset()
	t.Cleanup(config.Reset)

	assert.Panics(t, func() {
		var cfg required
		config.MustLoad(&cfg)
	})
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.env")
	require.NoError(t, os.WriteFile(path, []byte("BILLING_CONFIG_FROM_FILE=yes\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BILLING_CONFIG_FROM_FILE") })

	require.NoError(t, config.LoadEnvFiles(path))
	assert.Equal(t, "yes", os.Getenv("BILLING_CONFIG_FROM_FILE"))

	err := config.LoadEnvFiles(filepath.Join(dir, "missing.env"))
	assert.ErrorIs(t, err, config.ErrEnvFile)

	assert.NoError(t, config.LoadEnvFiles())
}
