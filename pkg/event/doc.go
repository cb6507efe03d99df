// Package event defines the canonical billing events and the normalizers
// that turn Stripe, Mercado Pago and Paddle webhook payloads into them.
//
// Normalizers only parse; they never call provider APIs. Mercado Pago
// notifications carry nothing but a resource id, so their events are marked
// NeedsEnrichment and completed by the payment client before the
// subscription state machine sees them.
package event
