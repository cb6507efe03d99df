// Package config loads service configuration from the environment.
//
// Values are read from an optional `.env` file (github.com/joho/godotenv) and
// then parsed into tagged structs with github.com/caarlos0/env/v11. Every
// component of the billing service declares its own struct:
//
//	type StripeConfig struct {
//		APIKey        string `env:"STRIPE_API_KEY"`
//		WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
//	}
//
//	var cfg StripeConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Load caches the parsed value per type so repeated calls are free. Parse
// skips the cache and accepts an explicit environment map, which is what
// tests and the CLI `--env-file` flag use.
package config
