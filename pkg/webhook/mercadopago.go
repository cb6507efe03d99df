package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/logger"
)

const (
	MercadoPagoSignatureHeader = "X-Signature"
	MercadoPagoRequestIDHeader = "X-Request-Id"
)

// MercadoPagoVerifier checks the x-signature header of Mercado Pago
// notifications.
//
// With an empty secret every request passes. That fallback is logged at WARN
// on each delivery; unless allowUnsigned is set the unsigned hook also fires
// so the caller can escalate it.
type MercadoPagoVerifier struct {
	secret        string
	allowUnsigned bool
	log           *slog.Logger
	onUnsigned    func()
}

type MercadoPagoOption func(*MercadoPagoVerifier)

// WithAllowUnsigned acknowledges that running without a secret is intended.
func WithAllowUnsigned(allow bool) MercadoPagoOption {
	return func(v *MercadoPagoVerifier) { v.allowUnsigned = allow }
}

func WithLogger(l *slog.Logger) MercadoPagoOption {
	return func(v *MercadoPagoVerifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithUnsignedHook is called for every request accepted without a secret
// while unsigned delivery has not been explicitly allowed.
func WithUnsignedHook(fn func()) MercadoPagoOption {
	return func(v *MercadoPagoVerifier) { v.onUnsigned = fn }
}

func NewMercadoPagoVerifier(secret string, opts ...MercadoPagoOption) *MercadoPagoVerifier {
	v := &MercadoPagoVerifier{
		secret: strings.TrimSpace(secret),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Unsigned reports whether the verifier runs in the permissive mode.
func (v *MercadoPagoVerifier) Unsigned() bool { return v.secret == "" }

// Verify reads the data id from the notification body.
func (v *MercadoPagoVerifier) Verify(headers http.Header, body []byte) (bool, error) {
	return v.VerifyRequest(headers, nil, body)
}

// VerifyRequest prefers the data.id query parameter, which is what Mercado
// Pago signs, and falls back to data.id in the body.
func (v *MercadoPagoVerifier) VerifyRequest(headers http.Header, query url.Values, body []byte) (bool, error) {
	if v.secret == "" {
		v.log.Warn("accepting unsigned mercado pago webhook: MP_WEBHOOK_SECRET is not set",
			logger.Provider(string(event.ProviderMercadoPago)),
			slog.Bool("allow_unsigned", v.allowUnsigned))
		if !v.allowUnsigned && v.onUnsigned != nil {
			v.onUnsigned()
		}
		return true, nil
	}

	raw := headers.Get(MercadoPagoSignatureHeader)
	if strings.TrimSpace(raw) == "" {
		return reject(ErrMissingSignature)
	}
	ts, sig, err := ParseMercadoPagoSignature(raw)
	if err != nil {
		return reject(err)
	}

	dataID := query.Get("data.id")
	if dataID == "" {
		if n, err := event.ParseMercadoPagoNotification(body); err == nil {
			dataID = string(n.Data.ID)
		}
	}

	expected := mercadoPagoHMAC(v.secret, MercadoPagoManifest(dataID, headers.Get(MercadoPagoRequestIDHeader), ts))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return reject(ErrSignatureMismatch)
	}
	return true, nil
}

// ParseMercadoPagoSignature splits "ts=<unix>,v1=<hex>" into its parts.
func ParseMercadoPagoSignature(header string) (ts, v1 string, err error) {
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("%w: expected ts=<unix>,v1=<hex>", ErrMalformedSignature)
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return "", "", fmt.Errorf("%w: invalid ts", ErrMalformedSignature)
	}
	return ts, v1, nil
}

// MercadoPagoManifest builds the signed template. Parts whose value is
// missing from the notification are left out; alphanumeric data ids are
// lowercased.
func MercadoPagoManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

// SignMercadoPago returns an x-signature header value for the given
// notification. Used by tests and the sign-webhook command.
func SignMercadoPago(secret, dataID, requestID string, ts int64) string {
	stamp := strconv.FormatInt(ts, 10)
	return "ts=" + stamp + ",v1=" + mercadoPagoHMAC(secret, MercadoPagoManifest(dataID, requestID, stamp))
}

func mercadoPagoHMAC(secret, manifest string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(manifest))
	return hex.EncodeToString(h.Sum(nil))
}
