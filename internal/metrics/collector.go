// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateflow"

// Collector 网关的 Prometheus 指标集合。
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	CacheHitsTotal  *prometheus.CounterVec
	AdmissionTotal  *prometheus.CounterVec
	BreakerRejects  *prometheus.CounterVec
	BulkheadRejects *prometheus.CounterVec
	HealthChecks    *prometheus.CounterVec
	ProviderUp      *prometheus.GaugeVec
	TokensTotal     *prometheus.CounterVec
}

// NewCollector 创建并注册指标。registerer 为 nil 时使用默认注册表。
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed inference requests by provider, policy and outcome.",
		}, []string{"provider", "policy", "outcome"}),

		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end adapter call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),

		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_cache_total",
			Help:      "Routing decision cache lookups by result.",
		}, []string{"result"}),

		AdmissionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_total",
			Help:      "Admission checks by resulting fallback level.",
		}, []string{"level"}),

		BreakerRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejects_total",
			Help:      "Calls rejected by an open circuit breaker.",
		}, []string{"provider"}),

		BulkheadRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulkhead_rejects_total",
			Help:      "Calls rejected by a full bulkhead.",
		}, []string{"provider"}),

		HealthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Provider health-check probes by state.",
		}, []string{"provider", "state"}),

		ProviderUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_up",
			Help:      "1 when the provider's last health check was healthy.",
		}, []string{"provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
	}
}
