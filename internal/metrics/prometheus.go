package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paracore"

// Metrics holds all Prometheus metrics of the platform
type Metrics struct {
	// Backend call metrics, labelled by tenant, backend and operation
	BackendCallDuration *prometheus.HistogramVec
	BackendCallErrors   *prometheus.CounterVec

	// Orchestrator metrics
	PropagationSkipped *prometheus.CounterVec
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	ReentrantCalls     prometheus.Counter
	ListenerPanics     prometheus.Counter

	// River metrics
	RiverMessagesTotal *prometheus.CounterVec
	RiverPagesTotal    *prometheus.CounterVec
	RiverPageErrors    *prometheus.CounterVec
	RiverIdleSleeps    *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec

	// ID generator metrics
	IDsIssuedTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
// A nil registerer registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BackendCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Histogram of store, index and cache call durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tenant", "backend", "operation"}),
		BackendCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_errors_total",
			Help:      "Total number of failed store, index and cache calls",
		}, []string{"tenant", "backend", "operation"}),

		PropagationSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "propagation_skipped_total",
			Help:      "Total number of writes not propagated to index or cache",
		}, []string{"reason"}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}, []string{"tenant"}),
		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}, []string{"tenant"}),
		ReentrantCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "reentrant_calls_total",
			Help:      "Total number of nested intercepted calls tolerated in production",
		}),
		ListenerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "listener_panics_total",
			Help:      "Total number of recovered listener panics",
		}),

		RiverMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "river",
			Name:      "messages_total",
			Help:      "Total number of queue messages by classification",
		}, []string{"river", "kind"}),
		RiverPagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "river",
			Name:      "pages_total",
			Help:      "Total number of pulled pages",
		}, []string{"river"}),
		RiverPageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "river",
			Name:      "page_errors_total",
			Help:      "Total number of pages that failed to process",
		}, []string{"river"}),
		RiverIdleSleeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "river",
			Name:      "idle_sleeps_total",
			Help:      "Total number of idle backoff sleeps",
		}, []string{"river"}),

		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total number of webhook deliveries by outcome",
		}, []string{"outcome"}),

		IDsIssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idgen",
			Name:      "ids_issued_total",
			Help:      "Total number of issued ids",
		}),
	}
}

// NewNopMetrics returns metrics registered with a private registry, for tests and tools
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// StartTimer starts a timer for one backend call. The returned function records the
// duration and must be deferred so that it runs on every exit path.
func (m *Metrics) StartTimer(tenant, backend, operation string) func() {
	timer := prometheus.NewTimer(m.BackendCallDuration.WithLabelValues(tenant, backend, operation))
	return func() {
		timer.ObserveDuration()
	}
}

// RecordError counts a failed backend call
func (m *Metrics) RecordError(tenant, backend, operation string) {
	m.BackendCallErrors.WithLabelValues(tenant, backend, operation).Inc()
}
