package billing

import (
	"time"

	"github.com/imobcloud/billing/pkg/alert"
	"github.com/imobcloud/billing/pkg/httpserver"
	"github.com/imobcloud/billing/pkg/payment"
	"github.com/imobcloud/billing/pkg/pg"
	"github.com/imobcloud/billing/pkg/redis"
)

// Ledger backends selectable with BILLING_LEDGER.
const (
	LedgerMemory   = "memory"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// Config is the full billingd configuration.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RecurringProvider string        `env:"BILLING_RECURRING_PROVIDER" envDefault:"stripe"`
	OneOffProvider    string        `env:"BILLING_ONE_OFF_PROVIDER" envDefault:"mercadopago"`
	PlansFile         string        `env:"BILLING_PLANS_FILE"`
	Ledger            string        `env:"BILLING_LEDGER" envDefault:"postgres"`
	LedgerTTL         time.Duration `env:"BILLING_LEDGER_TTL" envDefault:"168h"`
	DefaultTrialDays  int           `env:"BILLING_DEFAULT_TRIAL_DAYS" envDefault:"14"`
	// UsageTables maps resources to the tables counted per tenant, e.g.
	// "users:users,properties:properties".
	UsageTables map[string]string `env:"BILLING_USAGE_TABLES" envDefault:"users:users,properties:properties,integrations:integrations" envSeparator:"," envKeyValSeparator:":"`

	Stripe      payment.StripeConfig
	MercadoPago payment.MercadoPagoConfig
	Paddle      payment.PaddleConfig
	Postgres    pg.Config
	Redis       redis.Config
	HTTP        httpserver.Config
	Alert       alert.Config
}
