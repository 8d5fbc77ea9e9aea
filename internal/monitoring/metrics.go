package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/award-enricher/internal/model"
)

// Metrics exports registry, breaker, limiter and orchestrator telemetry to
// Prometheus. It satisfies registry.Observer and orchestrator.Observer. A
// nil *Metrics is a valid no-op observer.
type Metrics struct {
	RegistryFetches      *prometheus.CounterVec
	RegistryFetchLatency *prometheus.HistogramVec
	BreakerTransitions   *prometheus.CounterVec
	LimiterWait          *prometheus.HistogramVec
	ItemOutcomes         *prometheus.CounterVec
	ItemLatency          *prometheus.HistogramVec
	JobOutcomes          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RegistryFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_registry_fetches_total",
			Help: "Registry fetches by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		RegistryFetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_registry_fetch_duration_seconds",
			Help:    "Registry fetch latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_breaker_transitions_total",
			Help: "Circuit breaker state transitions by endpoint",
		}, []string{"endpoint", "from", "to"}),
		LimiterWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_limiter_wait_seconds",
			Help:    "Time spent waiting for rate limiter tokens",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"endpoint"}),
		ItemOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_items_total",
			Help: "Enrichment item outcomes by type and status",
		}, []string{"type", "status"}),
		ItemLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_item_duration_seconds",
			Help:    "End-to-end latency of one enrichment item",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		JobOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_jobs_finished_total",
			Help: "Jobs reaching a terminal status",
		}, []string{"status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RegistryFetches.WithLabelValues(endpoint, outcome).Inc()
	m.RegistryFetchLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBreakerTransition(endpoint, from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(endpoint, from, to).Inc()
}

func (m *Metrics) ObserveLimiterWait(endpoint string, wait time.Duration) {
	if m == nil {
		return
	}
	m.LimiterWait.WithLabelValues(endpoint).Observe(wait.Seconds())
}

func (m *Metrics) ObserveItem(typ model.EnrichmentType, status model.ResultStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ItemOutcomes.WithLabelValues(string(typ), string(status)).Inc()
	m.ItemLatency.WithLabelValues(string(typ)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveJob(status model.JobStatus) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(string(status)).Inc()
}
