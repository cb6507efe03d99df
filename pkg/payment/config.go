package payment

import "time"

type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// Prices maps plan ids to Stripe price ids, e.g. "pro:price_123,basic:price_456".
	Prices  map[string]string `env:"STRIPE_PRICES" envSeparator:"," envKeyValSeparator:":"`
	BaseURL string            `env:"STRIPE_BASE_URL"`
}

type MercadoPagoConfig struct {
	AccessToken   string `env:"MP_ACCESS_TOKEN"`
	WebhookSecret string `env:"MP_WEBHOOK_SECRET"`
	// AllowUnsignedWebhooks acknowledges that webhooks are accepted without a
	// signature when WebhookSecret is empty. It only silences the alert; the
	// log warning is always written.
	AllowUnsignedWebhooks bool          `env:"MP_ALLOW_UNSIGNED_WEBHOOKS" envDefault:"false"`
	BaseURL               string        `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	NotificationURL       string        `env:"MP_NOTIFICATION_URL"`
	Timeout               time.Duration `env:"MP_TIMEOUT" envDefault:"15s"`
}

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"sandbox"`
	// Prices maps plan ids to Paddle price ids (pri_...).
	Prices map[string]string `env:"PADDLE_PRICES" envSeparator:"," envKeyValSeparator:":"`
}
