package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "microclimate"

// Registry holds every collector exported by the service.
var Registry = prometheus.NewRegistry()

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycles_total",
			Help:      "Ingestion cycles run, by outcome (ok | registry_error).",
		},
		[]string{"outcome"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time from registry load until every source task settled.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
	sourceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "source_outcomes_total",
			Help:      "Per-source task outcomes (ok | skipped).",
		},
		[]string{"outcome"},
	)
	lastScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_score",
			Help:      "Most recent sun-exposure score per source.",
		},
		[]string{"source"},
	)
	sourcesConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sources",
			Help:      "Number of sources in the registry at the last successful load.",
		},
	)
	storeWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Result store writes by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	storeMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "backend_active",
			Help:      "1 for the active result store backend (durable | fallback).",
		},
		[]string{"backend"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently joined broadcast subscribers.",
		},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Broadcast delivery attempts by outcome (ok | failed).",
		},
		[]string{"outcome"},
	)
)

var registerMetrics sync.Once

// Register adds all collectors, plus Go runtime and process collectors, to
// Registry. Safe to call more than once.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			cyclesTotal,
			cycleDuration,
			sourceOutcomes,
			lastScore,
			sourcesConfigured,
			storeWrites,
			storeMode,
			subscribers,
			deliveries,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCycle records one completed cycle.
func RecordCycle(d time.Duration, ok, skipped int) {
	cyclesTotal.WithLabelValues("ok").Inc()
	cycleDuration.Observe(d.Seconds())
	sourceOutcomes.WithLabelValues("ok").Add(float64(ok))
	sourceOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRegistryError records a cycle abandoned because the registry failed.
func RecordRegistryError() {
	cyclesTotal.WithLabelValues("registry_error").Inc()
}

// SetLastScore records the latest score for a source.
func SetLastScore(sourceID string, score float64) {
	lastScore.WithLabelValues(sourceID).Set(score)
}

// SetSourcesConfigured records the size of the last loaded registry.
func SetSourcesConfigured(n int) {
	sourcesConfigured.Set(float64(n))
}

// RecordStoreWrite counts one store write.
func RecordStoreWrite(backend string, ok bool) {
	storeWrites.WithLabelValues(backend, outcome(ok)).Inc()
}

// SetStoreMode marks backend as the active store backend.
func SetStoreMode(backend string) {
	for _, b := range []string{"durable", "fallback"} {
		v := 0.0
		if b == backend {
			v = 1
		}
		storeMode.WithLabelValues(b).Set(v)
	}
}

// SetSubscribers records the current hub membership size.
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// RecordDelivery counts one broadcast delivery attempt.
func RecordDelivery(ok bool) {
	if ok {
		deliveries.WithLabelValues("ok").Inc()
		return
	}
	deliveries.WithLabelValues("failed").Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
