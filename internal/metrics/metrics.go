// Package metrics exposes Prometheus collectors for the batch pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockbatch"

// Metrics holds every collector on its own registry
// ⭐ SSOT: 메트릭 정의는 여기서만
type Metrics struct {
	registry *prometheus.Registry

	// ingest
	PricesInserted     prometheus.Counter
	PricesSkipped      prometheus.Counter
	InstrumentsCreated prometheus.Counter
	NameChanges        prometheus.Counter
	ValidationFailures prometheus.Counter

	// aggregate
	AggregatesWritten *prometheus.CounterVec // method
	AggregationErrors prometheus.Counter

	// jobs
	JobsTotal     *prometheus.CounterVec   // type, state
	JobDuration   *prometheus.HistogramVec // type
	ChunksTotal   *prometheus.CounterVec   // type, result
	JobsRunning   prometheus.Gauge
	DuplicateRuns prometheus.Counter

	// http
	HTTPRequests *prometheus.CounterVec // route, status
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PricesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest",
			Name: "prices_inserted_total", Help: "Price records appended",
		}),
		PricesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest",
			Name: "prices_skipped_total", Help: "Price records already present (duplicate skip)",
		}),
		InstrumentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest",
			Name: "instruments_created_total", Help: "Instruments created on first import",
		}),
		NameChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest",
			Name: "name_changes_total", Help: "Name intervals rolled or renamed",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest",
			Name: "validation_failures_total", Help: "Import entries rejected by validation",
		}),

		AggregatesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregate",
			Name: "written_total", Help: "Monthly aggregates upserted",
		}, []string{"method"}),
		AggregationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregate",
			Name: "errors_total", Help: "Periods skipped with undefined return",
		}),

		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job",
			Name: "finished_total", Help: "Jobs finished by type and final state",
		}, []string{"type", "state"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "job",
			Name: "duration_seconds", Help: "Job wall time",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"type"}),
		ChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job",
			Name: "chunks_total", Help: "Chunks committed or failed",
		}, []string{"type", "result"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "job",
			Name: "running", Help: "Jobs currently running",
		}),
		DuplicateRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job",
			Name: "duplicate_runs_total", Help: "Triggers rejected because the fingerprint was in flight",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "requests_total", Help: "API requests by route and status",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.PricesInserted, m.PricesSkipped, m.InstrumentsCreated, m.NameChanges, m.ValidationFailures,
		m.AggregatesWritten, m.AggregationErrors,
		m.JobsTotal, m.JobDuration, m.ChunksTotal, m.JobsRunning, m.DuplicateRuns,
		m.HTTPRequests,
	)
	return m
}

// Registry exposes the underlying registry (tests, custom exporters)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJob records a finished job
func (m *Metrics) ObserveJob(jobType, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, state).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// ObserveChunk records one chunk outcome ("committed" | "failed")
func (m *Metrics) ObserveChunk(jobType, result string) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(jobType, result).Inc()
}
