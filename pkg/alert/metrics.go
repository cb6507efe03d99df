package alert

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unknownSubject replaces enforcement subjects the filter rejects.
const unknownSubject = "unknown"

// Metrics holds the billing Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry
	known    func(subject string) bool

	WebhookDeliveries    *prometheus.CounterVec
	WebhookDuration      *prometheus.HistogramVec
	EnforcementDecisions *prometheus.CounterVec
	ProviderCalls        *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithSubjectFilter bounds the enforcement resource label: subjects for
// which known returns false are counted as "unknown".
func WithSubjectFilter(known func(subject string) bool) MetricsOption {
	return func(m *Metrics) { m.known = known }
}

// NewMetrics registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by provider and processing outcome.",
		}, []string{"provider", "outcome"}),
		WebhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		EnforcementDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "enforcement_decisions_total",
			Help:      "Plan limit decisions by resource or feature and decision.",
		}, []string{"resource", "decision"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "provider_calls_total",
			Help:      "Outbound payment provider calls by operation and result.",
		}, []string{"provider", "operation", "result"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Metrics) ObserveWebhook(provider, outcome string, elapsed time.Duration) {
	m.WebhookDeliveries.WithLabelValues(provider, outcome).Inc()
	m.WebhookDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveEnforcement matches limits.Observer.
func (m *Metrics) ObserveEnforcement(subject string, err error) {
	decision := "allow"
	if err != nil {
		decision = "deny"
	}
	if m.known != nil && !m.known(subject) {
		subject = unknownSubject
	}
	m.EnforcementDecisions.WithLabelValues(subject, decision).Inc()
}

func (m *Metrics) ObserveProviderCall(provider, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, operation, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
