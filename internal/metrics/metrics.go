package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the routehub collectors. It satisfies router.Observer.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	AttemptsTotal  *prometheus.CounterVec
	AttemptLatency *prometheus.HistogramVec
	TokensTotal    *prometheus.CounterVec
	CostUSD        *prometheus.CounterVec

	// RateLimitRejections is handed to the rate limiter.
	RateLimitRejections *prometheus.CounterVec
	// AuditFailures counts audit entries that could not be persisted.
	AuditFailures prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_requests_total",
			Help: "Routing requests by final outcome",
		}, []string{"outcome", "fallback"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routehub_request_latency_ms",
			Help:    "End-to-end routing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"outcome"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_provider_attempts_total",
			Help: "Provider attempts by error class (empty class means success)",
		}, []string{"provider", "model", "error_class"}),
		AttemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routehub_provider_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_tokens_total",
			Help: "Tokens consumed by successful attempts",
		}, []string{"provider", "model"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"provider", "model"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routehub_ratelimit_rejections_total",
			Help: "Admission rejections by the local rate limiter",
		}, []string{"provider", "reason"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routehub_audit_write_failures_total",
			Help: "Audit entries that failed to persist",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency,
		m.AttemptsTotal, m.AttemptLatency, m.TokensTotal, m.CostUSD,
		m.RateLimitRejections, m.AuditFailures,
	)
	return m
}

// RegisterInFlight exposes fn as the routehub_inflight_requests gauge.
func (m *Registry) RegisterInFlight(fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "routehub_inflight_requests",
		Help: "Provider calls currently holding a rate-limit reservation",
	}, fn))
}

func (m *Registry) ObserveAttempt(provider, model, errorClass string, latencyMs int64, tokens int, costUSD float64) {
	m.AttemptsTotal.WithLabelValues(provider, model, errorClass).Inc()
	m.AttemptLatency.WithLabelValues(provider).Observe(float64(latencyMs))
	if errorClass == "" {
		m.TokensTotal.WithLabelValues(provider, model).Add(float64(tokens))
		m.CostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

func (m *Registry) ObserveRequest(outcome string, fallbackUsed bool, latencyMs int64) {
	m.RequestsTotal.WithLabelValues(outcome, strconv.FormatBool(fallbackUsed)).Inc()
	m.RequestLatency.WithLabelValues(outcome).Observe(float64(latencyMs))
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
