// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterFetchesTotal          *prometheus.CounterVec
	harvesterThreadsTotal          *prometheus.CounterVec
	harvesterCommentsUpsertedTotal prometheus.Counter
	harvesterPersistSeconds        prometheus.Histogram
	harvesterActiveWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total fetches performed, labeled by document kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		harvesterThreadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_threads_total",
				Help: "Total threads processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterCommentsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_comments_upserted_total",
				Help: "Total comment rows upserted across all threads.",
			},
		)

		harvesterPersistSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_persist_duration_seconds",
				Help:    "Histogram of per-thread persistence transaction latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a thread.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for the given document kind
// ("listing" or "detail") and outcome ("ok" or "error").
func ObserveFetch(kind, outcome string) {
	harvesterFetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveThread increments the thread counter for the given outcome.
func ObserveThread(outcome string) {
	harvesterThreadsTotal.WithLabelValues(outcome).Inc()
}

// ObservePersist records one committed thread: transaction latency and the
// number of comment rows it upserted.
func ObservePersist(d time.Duration, comments int) {
	harvesterPersistSeconds.Observe(d.Seconds())
	if comments > 0 {
		harvesterCommentsUpsertedTotal.Add(float64(comments))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	harvesterActiveWorkers.Dec()
}
