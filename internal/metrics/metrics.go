// Package metrics exposes Prometheus collectors for the scraping pipeline.
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
	scraperItemsTotal           *prometheus.CounterVec
	scraperSourceResultsTotal   *prometheus.CounterVec
	scraperBatchesTotal         prometheus.Counter
	scraperActiveWorkers        prometheus.Gauge
	scraperRateLimitDelaySecs   *prometheus.HistogramVec
	scraperCircuitOpenTotal     *prometheus.CounterVec
	scraperRunDurationSeconds   prometheus.Histogram
	scraperDocumentCacheHits    prometheus.Counter
	scraperHeadlessRendersTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_total",
				Help: "Total number of colleges processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		scraperSourceResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_source_results_total",
				Help: "Total per-source fetch outcomes, labeled by source and availability.",
			},
			[]string{"source", "outcome"},
		)

		scraperBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_batches_total",
				Help: "Total number of batches dispatched.",
			},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a college.",
			},
		)

		scraperRateLimitDelaySecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations per domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperCircuitOpenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_circuit_open_total",
				Help: "Total fetch attempts skipped because a circuit was open.",
			},
			[]string{"key"},
		)

		scraperRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_run_duration_seconds",
				Help:    "Histogram of full pipeline run durations.",
				Buckets: []float64{1, 10, 60, 300, 900, 3600},
			},
		)

		scraperDocumentCacheHits = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_document_cache_hits_total",
				Help: "Total document fetches served from the local cache.",
			},
		)

		scraperHeadlessRendersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_headless_renders_total",
				Help: "Total fetches promoted to the headless browser.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the processed-college counter for the given outcome.
func ObserveItem(status string) {
	Init()
	scraperItemsTotal.WithLabelValues(status).Inc()
}

// ObserveSourceResult records one per-source fetch outcome.
func ObserveSourceResult(source string, available bool) {
	Init()
	outcome := "unavailable"
	if available {
		outcome = "available"
	}
	scraperSourceResultsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveBatch increments the batch counter.
func ObserveBatch() {
	Init()
	scraperBatchesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scraperActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scraperRateLimitDelaySecs.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCircuitOpen counts a fetch skipped by an open circuit.
func ObserveCircuitOpen(key string) {
	Init()
	scraperCircuitOpenTotal.WithLabelValues(key).Inc()
}

// ObserveRunDuration records the wall time of a completed run.
func ObserveRunDuration(duration time.Duration) {
	Init()
	scraperRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveDocumentCacheHit counts a document served from cache.
func ObserveDocumentCacheHit() {
	Init()
	scraperDocumentCacheHits.Inc()
}

// ObserveHeadlessRender counts a promotion to the headless browser.
func ObserveHeadlessRender() {
	Init()
	scraperHeadlessRendersTotal.Inc()
}
