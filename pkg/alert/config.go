package alert

// Config configures e-mail alerts. Alerts are disabled when no recipients
// are set.
type Config struct {
	PostmarkServerToken  string   `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string   `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string   `env:"ALERT_SENDER_EMAIL"`
	Recipients           []string `env:"ALERT_RECIPIENTS" envSeparator:","`
	Tag                  string   `env:"ALERT_TAG" envDefault:"billing-incident"`
}

// Enabled reports whether e-mail alerts are configured.
func (c Config) Enabled() bool {
	return len(c.Recipients) > 0
}
