package webhook

import (
	"errors"
	"net/http"
	"strings"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// StripeVerifier checks the Stripe-Signature header against the raw body.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

type StripeOption func(*StripeVerifier)

// WithStripeTolerance sets the accepted age of the signed timestamp.
func WithStripeTolerance(d time.Duration) StripeOption {
	return func(v *StripeVerifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func NewStripeVerifier(secret string, opts ...StripeOption) *StripeVerifier {
	v := &StripeVerifier{
		secret:    strings.TrimSpace(secret),
		tolerance: stripewebhook.DefaultTolerance,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify fails closed: without a secret no request is accepted. The plain
// "Signature" header is accepted as an alias.
func (v *StripeVerifier) Verify(headers http.Header, body []byte) (bool, error) {
	if v.secret == "" {
		return reject(ErrMissingSecret)
	}
	sig := headers.Get("Stripe-Signature")
	if sig == "" {
		sig = headers.Get("Signature")
	}
	if strings.TrimSpace(sig) == "" {
		return reject(ErrMissingSignature)
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(body, sig, v.secret, v.tolerance); err != nil {
		if errors.Is(err, stripewebhook.ErrNotSigned) || errors.Is(err, stripewebhook.ErrInvalidHeader) {
			return reject(ErrMalformedSignature, err)
		}
		return reject(ErrSignatureMismatch, err)
	}
	return true, nil
}
