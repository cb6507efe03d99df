package webhook_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/imobcloud/billing/pkg/webhook"
)

func stripeHeaders(t *testing.T, payload []byte, secret string, at time.Time) http.Header {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

func TestStripeVerifier(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewStripeVerifier(secret).Verify(stripeHeaders(t, payload, secret, time.Now()), payload)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("signature header alias", func(t *testing.T) {
		t.Parallel()
		h := stripeHeaders(t, payload, secret, time.Now())
		alias := http.Header{}
		alias.Set("Signature", h.Get("Stripe-Signature"))

		ok, err := webhook.NewStripeVerifier(secret).Verify(alias, payload)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		h := stripeHeaders(t, payload, secret, time.Now())
		tampered := bytes.Replace(payload, []byte("updated"), []byte("deleted"), 1)

		ok, err := webhook.NewStripeVerifier(secret).Verify(h, tampered)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrAuthentication)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewStripeVerifier("whsec_other").Verify(stripeHeaders(t, payload, secret, time.Now()), payload)
		assert.False(t, ok)
		assert.True(t, webhook.IsAuthenticationError(err))
	})

	t.Run("expired timestamp", func(t *testing.T) {
		t.Parallel()
		h := stripeHeaders(t, payload, secret, time.Now().Add(-time.Hour))
		ok, err := webhook.NewStripeVerifier(secret, webhook.WithStripeTolerance(time.Minute)).Verify(h, payload)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrAuthentication)
	})

	t.Run("missing secret fails closed", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewStripeVerifier("").Verify(stripeHeaders(t, payload, secret, time.Now()), payload)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewStripeVerifier(secret).Verify(http.Header{}, payload)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	})
}

func mpHeaders(signature, requestID string) http.Header {
	h := http.Header{}
	h.Set("x-signature", signature)
	h.Set("x-request-id", requestID)
	return h
}

func TestMercadoPagoManifest(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "id:123;request-id:req-1;ts:1704908010;", webhook.MercadoPagoManifest("123", "req-1", "1704908010"))
	assert.Equal(t, "id:abc;ts:1;", webhook.MercadoPagoManifest("ABC", "", "1"))
}

func TestMercadoPagoVerifier(t *testing.T) {
	t.Parallel()

	const (
		secret    = "mp-secret"
		requestID = "bb56a2f1-6aae-46ac-982e-9dcd3581d08e"
		ts        = int64(1704908010)
	)
	body := []byte(`{"id": 12345, "type": "payment", "action": "payment.updated", "data": {"id": "123456"}}`)

	t.Run("recomputed hmac matches", func(t *testing.T) {
		t.Parallel()
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte("id:123456;request-id:" + requestID + ";ts:1704908010;"))
		header := "ts=1704908010,v1=" + hex.EncodeToString(mac.Sum(nil))

		assert.Equal(t, header, webhook.SignMercadoPago(secret, "123456", requestID, ts))

		ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(mpHeaders(header, requestID), body)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("data id from query", func(t *testing.T) {
		t.Parallel()
		header := webhook.SignMercadoPago(secret, "999", requestID, ts)
		query := url.Values{"data.id": {"999"}, "type": {"payment"}}

		ok, err := webhook.NewMercadoPagoVerifier(secret).VerifyRequest(mpHeaders(header, requestID), query, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("spaces around parts", func(t *testing.T) {
		t.Parallel()
		header := webhook.SignMercadoPago(secret, "123456", requestID, ts)
		ts, v1, err := webhook.ParseMercadoPagoSignature(header)
		require.NoError(t, err)

		ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(mpHeaders(" ts="+ts+" , v1="+v1+" ", requestID), body)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("different request id", func(t *testing.T) {
		t.Parallel()
		header := webhook.SignMercadoPago(secret, "123456", requestID, ts)
		ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(mpHeaders(header, "other"), body)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		header := webhook.SignMercadoPago("nope", "123456", requestID, ts)
		ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(mpHeaders(header, requestID), body)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrAuthentication)
	})

	t.Run("malformed header", func(t *testing.T) {
		t.Parallel()
		for _, header := range []string{"v1=abc", "ts=1", "ts=abc,v1=00", "garbage"} {
			ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(mpHeaders(header, requestID), body)
			assert.False(t, ok, header)
			assert.ErrorIs(t, err, webhook.ErrMalformedSignature, header)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewMercadoPagoVerifier(secret).Verify(http.Header{}, body)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	})

	t.Run("empty secret passes unconditionally", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		var hooked atomic.Int32
		v := webhook.NewMercadoPagoVerifier("",
			webhook.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
			webhook.WithUnsignedHook(func() { hooked.Add(1) }),
		)
		assert.True(t, v.Unsigned())

		ok, err := v.Verify(mpHeaders("ts=1,v1=bogus", requestID), []byte("not even json"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Equal(t, int32(1), hooked.Load())
	})

	t.Run("explicitly allowed unsigned mode skips the hook", func(t *testing.T) {
		t.Parallel()
		var hooked atomic.Int32
		v := webhook.NewMercadoPagoVerifier("",
			webhook.WithAllowUnsigned(true),
			webhook.WithUnsignedHook(func() { hooked.Add(1) }),
		)

		ok, err := v.Verify(http.Header{}, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, hooked.Load())
	})
}

func paddleSignature(secret string, body []byte, ts int64) string {
	stamp := strconv.FormatInt(ts, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp + ":"))
	mac.Write(body)
	return "ts=" + stamp + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestPaddleVerifier(t *testing.T) {
	t.Parallel()

	const secret = "pdl_ntfset_secret"
	body := []byte(`{"event_id":"evt_01","event_type":"subscription.updated","data":{"id":"sub_01"}}`)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set(webhook.PaddleSignatureHeader, paddleSignature(secret, body, time.Now().Unix()))

		ok, err := webhook.NewPaddleVerifier(secret).Verify(h, body)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set(webhook.PaddleSignatureHeader, paddleSignature(secret, body, time.Now().Unix()))

		ok, err := webhook.NewPaddleVerifier(secret).Verify(h, append(body, ' '))
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrAuthentication)
	})

	t.Run("missing secret fails closed", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewPaddleVerifier(" ").Verify(http.Header{}, body)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		ok, err := webhook.NewPaddleVerifier(secret).Verify(http.Header{}, body)
		assert.False(t, ok)
		assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	})
}

func TestVerifierFunc(t *testing.T) {
	t.Parallel()

	var v webhook.Verifier = webhook.VerifierFunc(func(http.Header, []byte) (bool, error) { return true, nil })
	ok, err := v.Verify(nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
