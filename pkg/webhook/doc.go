// Package webhook verifies that inbound provider notifications are authentic
// before any of their content is trusted.
//
// Each provider has its own scheme:
//
//   - Stripe signs the raw body; StripeVerifier checks the Stripe-Signature
//     header with the SDK routine and fails closed when no secret is set.
//   - Mercado Pago signs a manifest built from the notification's data id,
//     the x-request-id header and a timestamp:
//     v1 = HMAC-SHA256(secret, "id:<dataId>;request-id:<requestId>;ts:<ts>;").
//     MercadoPagoVerifier passes every request when no secret is configured
//     and logs a warning each time it does so.
//   - Paddle signs "<ts>:<body>"; PaddleVerifier delegates to the SDK.
//
// All verifiers implement Verifier and read the raw, unparsed request body.
//
//	ok, err := verifier.Verify(r.Header, body)
//	if !ok {
//		// reject or acknowledge, depending on the provider policy
//	}
package webhook
