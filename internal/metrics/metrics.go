package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the service's Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	UsageRequests     *prometheus.CounterVec
	UsageLatency      *prometheus.HistogramVec
	UsageCostUSD      *prometheus.CounterVec
	UsageTokens       *prometheus.CounterVec
	ModelUpdates      *prometheus.CounterVec
	OptimizeRequests  *prometheus.CounterVec
	ProviderAvailable *prometheus.GaugeVec
	BudgetUsedRatio   prometheus.Gauge
	IngestRateLimited prometheus.Counter
	IngestReplays     prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		UsageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_usage_requests_total",
			Help: "Tracked model requests by outcome",
		}, []string{"model", "provider", "status"}),
		UsageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelhub_usage_latency_ms",
			Help:    "Reported model response time in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		}, []string{"model", "provider"}),
		UsageCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_usage_cost_usd_total",
			Help: "Reported model cost in USD",
		}, []string{"model", "provider"}),
		UsageTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_usage_tokens_total",
			Help: "Reported tokens consumed",
		}, []string{"model", "provider"}),
		ModelUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_model_updates_total",
			Help: "Admin mutations applied to model configurations",
		}, []string{"model", "action"}),
		OptimizeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelhub_optimize_requests_total",
			Help: "Optimization requests by language and use case",
		}, []string{"language", "use_case"}),
		ProviderAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modelhub_provider_available",
			Help: "1 when the provider answered its last health check",
		}, []string{"provider"}),
		BudgetUsedRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modelhub_budget_used_ratio",
			Help: "Month-to-date spend divided by the monthly budget",
		}),
		IngestRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelhub_ingest_rate_limited_total",
			Help: "Usage reports rejected by the ingestion rate limiter",
		}),
		IngestReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelhub_ingest_replays_total",
			Help: "Usage reports answered from the idempotency cache",
		}),
	}
	reg.MustRegister(m.UsageRequests, m.UsageLatency, m.UsageCostUSD, m.UsageTokens,
		m.ModelUpdates, m.OptimizeRequests, m.ProviderAvailable, m.BudgetUsedRatio,
		m.IngestRateLimited, m.IngestReplays)
	return m
}

// ObserveUsage records one tracked usage event. Safe on a nil Registry.
func (m *Registry) ObserveUsage(model, provider string, success bool, latencyMs float64, tokens int64, cost float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.UsageRequests.WithLabelValues(model, provider, status).Inc()
	m.UsageLatency.WithLabelValues(model, provider).Observe(latencyMs)
	if cost > 0 {
		m.UsageCostUSD.WithLabelValues(model, provider).Add(cost)
	}
	if tokens > 0 {
		m.UsageTokens.WithLabelValues(model, provider).Add(float64(tokens))
	}
}

// SetProviderAvailable updates the provider availability gauge.
func (m *Registry) SetProviderAvailable(provider string, available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1
	}
	m.ProviderAvailable.WithLabelValues(provider).Set(v)
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
