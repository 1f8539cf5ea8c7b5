package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pvpc"

// Metrics holds every Prometheus collector of the service on a private registry.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	IngestRuns     *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	SavedRecords   prometheus.Counter
	FailedRecords  prometheus.Counter
	FallbackUses   prometheus.Counter

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IngestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_runs_total",
				Help:      "Ingestion runs by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Duration of ingestion runs by trigger",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
		SavedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_records_total",
			Help:      "Price records written to the store",
		}),
		FailedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_records_total",
			Help:      "Price records that failed to save",
		}),
		FallbackUses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_applied_total",
			Help:      "Days filled from historical data",
		}),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker transitions by target state",
			},
			[]string{"name", "to"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by key",
			},
			[]string{"key"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses by key",
			},
			[]string{"key"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestRuns, m.IngestDuration, m.SavedRecords, m.FailedRecords, m.FallbackUses,
		m.BreakerState, m.BreakerTransitions,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveIngest(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(trigger, outcome).Inc()
	m.IngestDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *Metrics) ObserveSave(saved, failed int) {
	if m == nil {
		return
	}
	m.SavedRecords.Add(float64(saved))
	m.FailedRecords.Add(float64(failed))
}

func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.FallbackUses.Inc()
}

// ObserveBreaker matches the resilience state-change callback signature.
func (m *Metrics) ObserveBreaker(name, _, to string) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
	m.BreakerTransitions.WithLabelValues(name, to).Inc()
}

func (m *Metrics) ObserveCache(key string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(key).Inc()
	} else {
		m.CacheMisses.WithLabelValues(key).Inc()
	}
}
