package billing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/imobcloud/billing/handler"
	"github.com/imobcloud/billing/pkg/binder"
	"github.com/imobcloud/billing/pkg/event"
	"github.com/imobcloud/billing/pkg/httpserver"
	"github.com/imobcloud/billing/pkg/limits"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/pkg/payment"
)

// MaxWebhookBodySize caps inbound webhook bodies.
const MaxWebhookBodySize = 1 << 20

// RouterConfig holds what the router needs besides the Service.
type RouterConfig struct {
	Logger *slog.Logger
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// ReadyChecks back /readyz.
	ReadyChecks  []httpserver.Check
	ReadyTimeout time.Duration
}

// Router builds the billing HTTP API: provider webhooks, tenant endpoints
// and probes.
func Router(svc *Service, cfg RouterConfig) chi.Router {
	if svc == nil {
		panic("billing: service is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	api := &api{svc: svc, log: log, errorHandler: handler.NewErrorHandler(log, apiError)}

	r := chi.NewRouter()
	r.Use(handler.RequestID, middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthHandler(log, 0))
	r.Get("/readyz", httpserver.HealthHandler(log, cfg.ReadyTimeout, cfg.ReadyChecks...))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		stripe := api.webhook(event.ProviderStripe)
		r.Post("/provider-a", stripe)
		r.Post("/stripe", stripe)
		r.Post("/paddle", api.webhook(event.ProviderPaddle))

		mp := api.webhook(event.ProviderMercadoPago)
		r.Post("/provider-b", mp)
		r.Get("/provider-b", mp)
		r.Post("/mercadopago", mp)
	})

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/provision", handler.Wrap(api.provision,
			handler.WithBinders[handler.Context, provisionRequest](binder.Path(chi.URLParam), binder.JSON()),
			handler.WithErrorHandler[handler.Context, provisionRequest](api.errorHandler),
		))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", handler.Wrap(api.getSubscription,
				handler.WithBinders[handler.Context, tenantRequest](binder.Path(chi.URLParam)),
				handler.WithErrorHandler[handler.Context, tenantRequest](api.errorHandler),
			))
			r.Post("/", handler.Wrap(api.subscribe,
				handler.WithBinders[handler.Context, subscribeRequest](binder.Path(chi.URLParam), binder.JSON()),
				handler.WithErrorHandler[handler.Context, subscribeRequest](api.errorHandler),
			))
			r.Put("/plan", handler.Wrap(api.changePlan,
				handler.WithBinders[handler.Context, changePlanRequest](binder.Path(chi.URLParam), binder.JSON()),
				handler.WithErrorHandler[handler.Context, changePlanRequest](api.errorHandler),
			))
			r.Delete("/", handler.Wrap(api.cancelSubscription,
				handler.WithBinders[handler.Context, cancelRequest](binder.Path(chi.URLParam), binder.Query()),
				handler.WithErrorHandler[handler.Context, cancelRequest](api.errorHandler),
			))
		})

		r.Get("/usage", handler.Wrap(api.usage,
			handler.WithBinders[handler.Context, tenantRequest](binder.Path(chi.URLParam)),
			handler.WithErrorHandler[handler.Context, tenantRequest](api.errorHandler),
		))
		r.Post("/check/{resource}", handler.Wrap(api.checkResource,
			handler.WithBinders[handler.Context, resourceRequest](binder.Path(chi.URLParam)),
			handler.WithErrorHandler[handler.Context, resourceRequest](api.errorHandler),
		))
		r.Get("/features/{feature}", handler.Wrap(api.checkFeature,
			handler.WithBinders[handler.Context, featureRequest](binder.Path(chi.URLParam)),
			handler.WithErrorHandler[handler.Context, featureRequest](api.errorHandler),
		))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", handler.Wrap(api.createPayment,
				handler.WithBinders[handler.Context, createPaymentRequest](binder.Path(chi.URLParam), binder.JSON()),
				handler.WithErrorHandler[handler.Context, createPaymentRequest](api.errorHandler),
			))
			r.Get("/{paymentID}", handler.Wrap(api.getPayment,
				handler.WithBinders[handler.Context, paymentRequest](binder.Path(chi.URLParam)),
				handler.WithErrorHandler[handler.Context, paymentRequest](api.errorHandler),
			))
			r.Delete("/{paymentID}", handler.Wrap(api.cancelPayment,
				handler.WithBinders[handler.Context, paymentRequest](binder.Path(chi.URLParam)),
				handler.WithErrorHandler[handler.Context, paymentRequest](api.errorHandler),
			))
		})
	})

	return r
}

type api struct {
	svc          *Service
	log          *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
}

// webhook reads the raw body before anything parses it; signatures are
// computed over the exact bytes.
func (a *api) webhook(provider event.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				a.log.WarnContext(r.Context(), "webhook body too large",
					logger.Provider(string(provider)),
					slog.Int64("limit", tooLarge.Limit),
				)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			a.log.WarnContext(r.Context(), "webhook body unreadable", logger.Provider(string(provider)), logger.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		res := a.svc.HandleWebhook(r.Context(), provider, WebhookRequest{
			Headers: r.Header,
			Query:   r.URL.Query(),
			Body:    body,
		})
		a.log.DebugContext(r.Context(), "webhook handled",
			logger.Provider(string(provider)),
			logger.EventID(res.EventID),
			slog.String("outcome", res.Outcome),
			slog.Int("status_code", res.StatusCode),
		)
		w.WriteHeader(res.StatusCode)
	}
}

type tenantRequest struct {
	TenantID string `path:"tenantID"`
}

func parseTenant(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidTenantID, raw)
	}
	return id, nil
}

type provisionRequest struct {
	TenantID  string `path:"tenantID" json:"-"`
	TrialDays *int   `json:"trial_days,omitempty"`
}

func (a *api) provision(ctx handler.Context, req provisionRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	sub, err := a.svc.ProvisionTenant(ctx, tenantID, req.TrialDays)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub, handler.WithJSONStatus(http.StatusCreated))
}

func (a *api) getSubscription(ctx handler.Context, req tenantRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	sub, err := a.svc.Subscription(ctx, tenantID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}

type subscribeRequest struct {
	TenantID string `path:"tenantID" json:"-"`
	SubscribeRequest
}

func (a *api) subscribe(ctx handler.Context, req subscribeRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	res, err := a.svc.Subscribe(ctx, tenantID, req.SubscribeRequest)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res, handler.WithJSONStatus(http.StatusCreated))
}

type changePlanRequest struct {
	TenantID string `path:"tenantID" json:"-"`
	PlanID   string `json:"plan_id"`
}

func (a *api) changePlan(ctx handler.Context, req changePlanRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	res, err := a.svc.ChangePlan(ctx, tenantID, req.PlanID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

type cancelRequest struct {
	TenantID  string `path:"tenantID" json:"-"`
	Immediate bool   `query:"immediate"`
}

func (a *api) cancelSubscription(ctx handler.Context, req cancelRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	res, err := a.svc.CancelSubscription(ctx, tenantID, req.Immediate)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (a *api) usage(ctx handler.Context, req tenantRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	report, err := a.svc.Usage(ctx, tenantID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(report)
}

type resourceRequest struct {
	TenantID string `path:"tenantID" json:"-"`
	Resource string `path:"resource"`
}

type decisionResponse struct {
	Allowed  bool            `json:"allowed"`
	Resource limits.Resource `json:"resource,omitempty"`
	Feature  limits.Feature  `json:"feature,omitempty"`
}

func (a *api) checkResource(ctx handler.Context, req resourceRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	res := limits.Resource(req.Resource)
	if err := a.svc.CheckResource(ctx, tenantID, res); err != nil {
		return handler.Error(err)
	}
	return handler.JSON(decisionResponse{Allowed: true, Resource: res})
}

type featureRequest struct {
	TenantID string `path:"tenantID" json:"-"`
	Feature  string `path:"feature"`
}

func (a *api) checkFeature(ctx handler.Context, req featureRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	f := limits.Feature(req.Feature)
	if err := a.svc.CheckFeature(ctx, tenantID, f); err != nil {
		return handler.Error(err)
	}
	return handler.JSON(decisionResponse{Allowed: true, Feature: f})
}

type createPaymentRequest struct {
	TenantID string `path:"tenantID" json:"-"`
	payment.PaymentRequest
}

func (a *api) createPayment(ctx handler.Context, req createPaymentRequest) handler.Response {
	tenantID, err := parseTenant(req.TenantID)
	if err != nil {
		return handler.Error(err)
	}
	pr := req.PaymentRequest
	pr.IdempotencyKey = ctx.Request().Header.Get("Idempotency-Key")
	p, err := a.svc.CreatePayment(ctx, tenantID, pr)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(p, handler.WithJSONStatus(http.StatusCreated))
}

type paymentRequest struct {
	TenantID  string `path:"tenantID" json:"-"`
	PaymentID string `path:"paymentID"`
}

func (r paymentRequest) ids() (tenantID, paymentID uuid.UUID, err error) {
	if tenantID, err = parseTenant(r.TenantID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if paymentID, err = uuid.Parse(r.PaymentID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrPaymentNotFound, r.PaymentID)
	}
	return tenantID, paymentID, nil
}

func (a *api) getPayment(ctx handler.Context, req paymentRequest) handler.Response {
	tenantID, paymentID, err := req.ids()
	if err != nil {
		return handler.Error(err)
	}
	p, err := a.svc.RefreshPayment(ctx, tenantID, paymentID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(p)
}

func (a *api) cancelPayment(ctx handler.Context, req paymentRequest) handler.Response {
	tenantID, paymentID, err := req.ids()
	if err != nil {
		return handler.Error(err)
	}
	p, err := a.svc.CancelPayment(ctx, tenantID, paymentID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(p)
}
