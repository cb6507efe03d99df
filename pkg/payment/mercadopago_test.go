package payment_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/payment"
)

type recordedRequest struct {
	Method  string
	Path    string
	Header  http.Header
	Payload map[string]any
}

// mpServer is a minimal Mercado Pago API double. Routes map "METHOD /path"
// to a status code and JSON body.
type mpServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type mpRoute struct {
	status int
	body   string
}

func newMPServer(t *testing.T, routes map[string]mpRoute) *mpServer {
	t.Helper()
	s := &mpServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			_ = json.Unmarshal(body, &rec.Payload)
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		route, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"resource not found","error":"not_found","status":404,"cause":[]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(route.status)
		_, _ = io.WriteString(w, route.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mpServer) calls() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func newMPProvider(t *testing.T, srv *mpServer) *payment.MercadoPagoProvider {
	t.Helper()
	p, err := payment.NewMercadoPagoProvider(payment.MercadoPagoConfig{
		AccessToken:     "TEST-token",
		BaseURL:         srv.URL,
		NotificationURL: "https://billing.example.com/webhooks/provider-b",
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

const mpPixPayment = `{
	"id": 1319999999,
	"status": "pending",
	"status_detail": "pending_waiting_transfer",
	"transaction_amount": 149.9,
	"currency_id": "BRL",
	"date_created": "2025-03-01T10:00:00.000-03:00",
	"date_approved": null,
	"date_of_expiration": "2025-03-02T10:00:00.000-03:00",
	"external_reference": "tenant-1",
	"point_of_interaction": {"transaction_data": {
		"qr_code": "00020126580014br.gov.bcb.pix",
		"qr_code_base64": "iVBORw0KGgo=",
		"ticket_url": "https://www.mercadopago.com.br/payments/1319999999/ticket"
	}}
}`

func TestNewMercadoPagoProvider(t *testing.T) {
	t.Parallel()

	_, err := payment.NewMercadoPagoProvider(payment.MercadoPagoConfig{})
	assert.ErrorIs(t, err, payment.ErrMissingCredentials)

	_, err = payment.NewMercadoPagoProvider(payment.MercadoPagoConfig{AccessToken: "TEST-token", BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestMercadoPago_CreateOneOffPayment(t *testing.T) {
	t.Parallel()

	t.Run("pix with CPF", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"POST /v1/payments": {http.StatusCreated, mpPixPayment},
		})
		p := newMPProvider(t, srv)

		req := pixRequest(validCPF)
		req.IdempotencyKey = "idem-1"
		res, err := p.CreateOneOffPayment(t.Context(), req)
		require.NoError(t, err)

		assert.Equal(t, "1319999999", res.ID)
		assert.Equal(t, "mercadopago", res.Provider)
		assert.Equal(t, "pending", res.Status)
		assert.Equal(t, "pending_waiting_transfer", res.StatusDetail)
		assert.True(t, decimal.RequireFromString("149.90").Equal(res.Amount))
		assert.Equal(t, time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC), res.CreatedAt)
		assert.Nil(t, res.ApprovedAt)
		assert.Equal(t, "CPF", res.Extras[payment.ExtraTaxIDType])
		assert.Equal(t, "00020126580014br.gov.bcb.pix", res.Extras[payment.ExtraPixQRCode])
		assert.Equal(t, "iVBORw0KGgo=", res.Extras[payment.ExtraPixQRCodeBase64])
		assert.Equal(t, "2025-03-02T13:00:00Z", res.Extras[payment.ExtraExpiresAt])

		calls := srv.calls()
		require.Len(t, calls, 1)
		call := calls[0]
		assert.Equal(t, "Bearer TEST-token", call.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", call.Header.Get("X-Idempotency-Key"))
		assert.Equal(t, "pix", call.Payload["payment_method_id"])
		assert.Equal(t, 149.9, call.Payload["transaction_amount"])
		assert.Equal(t, "tenant-1", call.Payload["external_reference"])
		assert.Equal(t, "https://billing.example.com/webhooks/provider-b", call.Payload["notification_url"])

		payer := call.Payload["payer"].(map[string]any)
		assert.Equal(t, "Maria", payer["first_name"])
		assert.Equal(t, map[string]any{"type": "CPF", "number": "52998224725"}, payer["identification"])
	})

	t.Run("boleto with CNPJ", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"POST /v1/payments": {http.StatusCreated, `{
				"id": 42, "status": "pending", "status_detail": "pending_waiting_payment",
				"transaction_amount": 149.9, "currency_id": "BRL",
				"transaction_details": {"external_resource_url": "https://boleto.example/42", "digitable_line": "23793381286000000000"}
			}`},
		})
		p := newMPProvider(t, srv)

		req := pixRequest(validCNPJ)
		req.Method = payment.MethodBoleto
		res, err := p.CreateOneOffPayment(t.Context(), req)
		require.NoError(t, err)

		assert.Equal(t, "CNPJ", res.Extras[payment.ExtraTaxIDType])
		assert.Equal(t, "https://boleto.example/42", res.Extras[payment.ExtraBoletoURL])
		assert.Equal(t, "23793381286000000000", res.Extras[payment.ExtraBoletoBarcode])

		calls := srv.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "bolbradesco", calls[0].Payload["payment_method_id"])
		assert.NotEmpty(t, calls[0].Header.Get("X-Idempotency-Key"))
	})

	t.Run("pix image rendered when missing", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"POST /v1/payments": {http.StatusCreated, `{
				"id": 7, "status": "pending", "transaction_amount": 10, "currency_id": "BRL",
				"point_of_interaction": {"transaction_data": {"qr_code": "` + samplePixEMV + `"}}
			}`},
		})
		p := newMPProvider(t, srv)

		res, err := p.CreateOneOffPayment(t.Context(), pixRequest(validCPF))
		require.NoError(t, err)
		assert.NotEmpty(t, res.Extras[payment.ExtraPixQRCodeBase64])
	})

	t.Run("invalid tax id never reaches the provider", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, nil)
		p := newMPProvider(t, srv)

		_, err := p.CreateOneOffPayment(t.Context(), pixRequest("111.111.111-11"))
		require.Error(t, err)
		assert.True(t, payment.IsValidation(err))
		assert.Empty(t, srv.calls())

		oe, ok := payment.AsOperationError(err)
		require.True(t, ok)
		assert.Equal(t, "mercadopago", oe.Provider)
		assert.Equal(t, payment.OpCreateOneOffPayment, oe.Operation)
	})

	t.Run("card without brand", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, nil)
		p := newMPProvider(t, srv)

		req := pixRequest(validCPF)
		req.Method = payment.MethodCreditCard
		req.CardToken = "tok_123"
		_, err := p.CreateOneOffPayment(t.Context(), req)
		assert.True(t, payment.IsValidation(err))
	})

	t.Run("unsupported currency", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, nil)
		p := newMPProvider(t, srv)

		req := pixRequest(validCPF)
		req.Currency = "USD"
		_, err := p.CreateOneOffPayment(t.Context(), req)
		assert.True(t, payment.IsValidation(err))
	})

	t.Run("upstream rejection keeps the provider detail", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"POST /v1/payments": {http.StatusBadRequest, `{
				"message": "Invalid transaction_amount", "error": "bad_request", "status": 400,
				"cause": [{"code": 4037, "description": "Invalid transaction_amount"}]
			}`},
		})
		p := newMPProvider(t, srv)

		_, err := p.CreateOneOffPayment(t.Context(), pixRequest(validCPF))
		require.Error(t, err)
		assert.ErrorIs(t, err, payment.ErrProvider)

		oe, ok := payment.AsOperationError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, oe.HTTPStatus)
		assert.Equal(t, "Invalid transaction_amount", oe.StatusDetail)
	})
}

func TestMercadoPago_GetPaymentStatus(t *testing.T) {
	t.Parallel()

	srv := newMPServer(t, map[string]mpRoute{
		"GET /v1/payments/55": {http.StatusOK, `{
			"id": 55, "status": "approved", "status_detail": "accredited",
			"transaction_amount": 99.5, "currency_id": "BRL",
			"date_created": "2025-03-01T10:00:00.000-03:00",
			"date_approved": "2025-03-01T10:05:00.000-03:00"
		}`},
	})
	p := newMPProvider(t, srv)

	res, err := p.GetPaymentStatus(t.Context(), "55")
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Status)
	assert.Equal(t, "accredited", res.StatusDetail)
	require.NotNil(t, res.ApprovedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 13, 5, 0, 0, time.UTC), *res.ApprovedAt)

	_, err = p.GetPaymentStatus(t.Context(), "404")
	assert.True(t, payment.IsNotFound(err))

	_, err = p.GetPaymentStatus(t.Context(), "pi_not_numeric")
	assert.True(t, payment.IsNotFound(err))
}

func TestMercadoPago_CancelPayment(t *testing.T) {
	t.Parallel()

	t.Run("pending payment is cancelled", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"GET /v1/payments/1": {http.StatusOK, `{"id": 1, "status": "pending"}`},
			"PUT /v1/payments/1": {http.StatusOK, `{"id": 1, "status": "cancelled"}`},
		})
		p := newMPProvider(t, srv)

		require.NoError(t, p.CancelPayment(t.Context(), "1"))
		calls := srv.calls()
		require.Len(t, calls, 2)
		assert.Equal(t, map[string]any{"status": "cancelled"}, calls[1].Payload)
	})

	t.Run("approved payment conflicts without a write", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"GET /v1/payments/2": {http.StatusOK, `{"id": 2, "status": "approved"}`},
		})
		p := newMPProvider(t, srv)

		err := p.CancelPayment(t.Context(), "2")
		require.Error(t, err)
		assert.True(t, payment.IsConflict(err))
		assert.Len(t, srv.calls(), 1)
	})

	t.Run("upstream refusal is a conflict", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"GET /v1/payments/3": {http.StatusOK, `{"id": 3, "status": "in_process"}`},
			"PUT /v1/payments/3": {http.StatusBadRequest, `{"message": "Invalid status for cancel", "status": 400}`},
		})
		p := newMPProvider(t, srv)

		err := p.CancelPayment(t.Context(), "3")
		require.Error(t, err)
		assert.True(t, payment.IsConflict(err))
		oe, _ := payment.AsOperationError(err)
		assert.Equal(t, "Invalid status for cancel", oe.StatusDetail)
	})
}

const mpPreapproval = `{
	"id": "2c938084726fca480172750000000000",
	"status": "authorized",
	"payer_id": 123,
	"payer_email": "owner@agency.com.br",
	"init_point": "https://www.mercadopago.com.br/subscriptions/checkout?preapproval_id=2c93",
	"external_reference": "tenant-1",
	"date_created": "2025-03-01T10:00:00.000-03:00",
	"last_modified": "2025-03-05T10:00:00.000-03:00",
	"next_payment_date": "2025-04-01T10:00:00.000-03:00",
	"auto_recurring": {"frequency": 1, "frequency_type": "months", "transaction_amount": 199.9,
		"free_trial": {"frequency": 14, "frequency_type": "days"}},
	"summarized": {"last_charged_date": "2025-03-01T10:00:00.000-03:00"}
}`

func TestMercadoPago_Subscriptions(t *testing.T) {
	t.Parallel()

	const id = "2c938084726fca480172750000000000"

	t.Run("create", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"POST /preapproval": {http.StatusCreated, mpPreapproval},
		})
		p := newMPProvider(t, srv)

		res, err := p.CreateSubscription(t.Context(), payment.SubscriptionRequest{
			TenantID:    "tenant-1",
			CustomerRef: "owner@agency.com.br",
			PlanRef:     "pro",
			PlanName:    "Imob Pro",
			Amount:      decimal.RequireFromString("199.90"),
			TrialDays:   14,
			BackURL:     "https://app.example.com/billing",
		})
		require.NoError(t, err)

		assert.Equal(t, id, res.ID)
		assert.Equal(t, event.StatusActive, res.Status)
		assert.Equal(t, "owner@agency.com.br", res.CustomerRef)
		assert.Contains(t, res.ActionURL, "preapproval_id=")
		assert.Equal(t, time.Date(2025, 4, 1, 13, 0, 0, 0, time.UTC), res.CurrentPeriodEnd)
		require.NotNil(t, res.TrialEnd)
		assert.Equal(t, time.Date(2025, 3, 15, 13, 0, 0, 0, time.UTC), *res.TrialEnd)

		calls := srv.calls()
		require.Len(t, calls, 1)
		body := calls[0].Payload
		assert.Equal(t, "pending", body["status"])
		assert.Equal(t, "Imob Pro", body["reason"])
		assert.Equal(t, "tenant-1", body["external_reference"])
		recurring := body["auto_recurring"].(map[string]any)
		assert.Equal(t, 199.9, recurring["transaction_amount"])
		assert.Equal(t, "months", recurring["frequency_type"])
		assert.Equal(t, map[string]any{"frequency": float64(14), "frequency_type": "days"}, recurring["free_trial"])
	})

	t.Run("create validates", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, nil)
		p := newMPProvider(t, srv)

		_, err := p.CreateSubscription(t.Context(), payment.SubscriptionRequest{TenantID: "tenant-1"})
		assert.True(t, payment.IsValidation(err))
		assert.Empty(t, srv.calls())
	})

	t.Run("cancel at period end", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"GET /preapproval/" + id: {http.StatusOK, mpPreapproval},
			"PUT /preapproval/" + id: {http.StatusOK, `{
				"id": "` + id + `", "status": "authorized",
				"next_payment_date": "2025-04-01T10:00:00.000-03:00",
				"auto_recurring": {"end_date": "2025-04-01T10:00:00.000-03:00"}
			}`},
		})
		p := newMPProvider(t, srv)

		res, err := p.CancelSubscription(t.Context(), id, false)
		require.NoError(t, err)
		assert.Equal(t, event.StatusActive, res.Status)
		assert.True(t, res.CancelAtPeriodEnd)

		calls := srv.calls()
		require.Len(t, calls, 2)
		recurring := calls[1].Payload["auto_recurring"].(map[string]any)
		assert.Equal(t, "2025-04-01T10:00:00-03:00", recurring["end_date"])
		assert.NotContains(t, calls[1].Payload, "status")
	})

	t.Run("cancel immediately", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, map[string]mpRoute{
			"PUT /preapproval/" + id: {http.StatusOK, `{
				"id": "` + id + `", "status": "cancelled",
				"last_modified": "2025-03-10T10:00:00.000-03:00"
			}`},
		})
		p := newMPProvider(t, srv)

		res, err := p.CancelSubscription(t.Context(), id, true)
		require.NoError(t, err)
		assert.Equal(t, event.StatusCanceled, res.Status)
		assert.False(t, res.CancelAtPeriodEnd)
		require.NotNil(t, res.CanceledAt)

		calls := srv.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]any{"status": "cancelled"}, calls[0].Payload)
	})

	t.Run("plan change needs an amount", func(t *testing.T) {
		t.Parallel()
		srv := newMPServer(t, nil)
		p := newMPProvider(t, srv)

		plan := "business"
		_, err := p.UpdateSubscription(t.Context(), id, payment.SubscriptionUpdate{PlanRef: &plan})
		assert.ErrorIs(t, err, payment.ErrUnsupported)
	})
}

func TestMercadoPago_Enrich(t *testing.T) {
	t.Parallel()

	srv := newMPServer(t, map[string]mpRoute{
		"GET /v1/payments/900": {http.StatusOK, `{
			"id": 900, "status": "approved", "external_reference": "tenant-9",
			"date_last_updated": "2025-03-01T12:00:00.000-03:00"
		}`},
		"GET /preapproval/pre-1": {http.StatusOK, `{
			"id": "pre-1", "status": "paused", "payer_email": "owner@agency.com.br",
			"external_reference": "tenant-9",
			"next_payment_date": "2025-04-01T10:00:00.000-03:00",
			"last_modified": "2025-03-05T10:00:00.000-03:00"
		}`},
		"GET /authorized_payments/777": {http.StatusOK, `{
			"id": 777, "preapproval_id": "pre-1", "status": "processed",
			"payment": {"id": 901, "status": "rejected"}
		}`},
	})
	p := newMPProvider(t, srv)

	t.Run("payment", func(t *testing.T) {
		t.Parallel()
		ev, err := event.NormalizeMercadoPago([]byte(`{"id": 1, "type": "payment", "action": "payment.updated", "data": {"id": "900"}}`))
		require.NoError(t, err)

		ev, err = p.Enrich(t.Context(), ev)
		require.NoError(t, err)
		assert.False(t, ev.NeedsEnrichment)
		assert.Equal(t, "approved", ev.PaymentStatus)
		assert.Equal(t, "tenant-9", ev.TenantHint)
		assert.Equal(t, time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC), ev.OccurredAt)
	})

	t.Run("preapproval", func(t *testing.T) {
		t.Parallel()
		ev, err := event.NormalizeMercadoPago([]byte(`{"id": 2, "type": "subscription_preapproval", "action": "updated", "data": {"id": "pre-1"}}`))
		require.NoError(t, err)

		ev, err = p.Enrich(t.Context(), ev)
		require.NoError(t, err)
		assert.Equal(t, event.SubscriptionUpdated, ev.Type)
		assert.Equal(t, event.StatusPastDue, ev.Status)
		assert.Equal(t, "owner@agency.com.br", ev.CustomerRef)
		assert.Equal(t, "tenant-9", ev.TenantHint)
		require.NotNil(t, ev.PeriodEnd)
	})

	t.Run("authorized payment failure", func(t *testing.T) {
		t.Parallel()
		ev, err := event.NormalizeMercadoPago([]byte(`{"id": 3, "type": "subscription_authorized_payment", "data": {"id": "777"}}`))
		require.NoError(t, err)

		ev, err = p.Enrich(t.Context(), ev)
		require.NoError(t, err)
		assert.Equal(t, event.InvoicePaymentFailed, ev.Type)
		assert.Equal(t, "pre-1", ev.SubscriptionRef)
		assert.Equal(t, "rejected", ev.PaymentStatus)
	})

	t.Run("missing resource", func(t *testing.T) {
		t.Parallel()
		ev, err := event.NormalizeMercadoPago([]byte(`{"id": 4, "type": "payment", "data": {"id": "404"}}`))
		require.NoError(t, err)

		_, err = p.Enrich(t.Context(), ev)
		assert.True(t, payment.IsNotFound(err))
	})

	t.Run("already complete events pass through", func(t *testing.T) {
		t.Parallel()
		in := event.Event{Provider: event.ProviderMercadoPago, Type: event.PaymentUpdated, PaymentRef: "x"}
		out, err := p.Enrich(t.Context(), in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}
