// Package metrics exposes Prometheus collectors for the feed hub.
//
// All recording methods are safe on a nil *Metrics, which disables metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedhub"

// Metrics holds the feed hub collectors.
type Metrics struct {
	// Scheduler
	tickDuration *prometheus.HistogramVec // By task
	tickPanics   *prometheus.CounterVec   // By task

	// Ingestion
	fetchErrors     *prometheus.CounterVec // By feeder
	samplesMerged   *prometheus.CounterVec // By feeder
	samplesRejected *prometheus.CounterVec // By feeder
	records         *prometheus.GaugeVec   // By namespace

	// Coalescing and upstream providers
	queueDepth      *prometheus.GaugeVec   // By queue
	droppedRequests *prometheus.CounterVec // By queue and reason
	upstreamCalls   *prometheus.CounterVec // By provider and status

	// Trails and outline
	outlinePoints *prometheus.GaugeVec // By feeder

	// Housekeeping
	archived   *prometheus.CounterVec // By outcome: archived, failed
	enrichment *prometheus.CounterVec // By source and outcome
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduled task ticks",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"task"}),

		tickPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_panics_total",
			Help:      "Ticks that recovered from a panic",
		}, []string{"task"}),

		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeder",
			Name:      "fetch_errors_total",
			Help:      "Failed feeder fetches",
		}, []string{"feeder"}),

		samplesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeder",
			Name:      "samples_merged_total",
			Help:      "Samples normalized and merged into a store",
		}, []string{"feeder"}),

		samplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeder",
			Name:      "samples_rejected_total",
			Help:      "Samples skipped for missing hex or position",
		}, []string{"feeder"}),

		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Live records per store",
		}, []string{"namespace"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coalesce",
			Name:      "queue_depth",
			Help:      "Pending coalescing requests",
		}, []string{"queue"}),

		droppedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalesce",
			Name:      "dropped_requests_total",
			Help:      "Requests dropped without an upstream call",
		}, []string{"queue", "reason"}),

		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Upstream provider calls",
		}, []string{"provider", "status"}),

		outlinePoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outline",
			Name:      "points",
			Help:      "Occupied bearing buckets per feeder",
		}, []string{"feeder"}),

		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "records_total",
			Help:      "Idle records handled by the archive job",
		}, []string{"outcome"}),

		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "lookups_total",
			Help:      "Enrichment lookups",
		}, []string{"source", "outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.tickDuration, m.tickPanics,
		m.fetchErrors, m.samplesMerged, m.samplesRejected, m.records,
		m.queueDepth, m.droppedRequests, m.upstreamCalls,
		m.outlinePoints, m.archived, m.enrichment,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveTick records the duration of one tick of task.
func (m *Metrics) ObserveTick(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(task).Observe(d.Seconds())
}

// TickPanic counts a recovered panic in task.
func (m *Metrics) TickPanic(task string) {
	if m == nil {
		return
	}
	m.tickPanics.WithLabelValues(task).Inc()
}

// FetchError counts a failed fetch of feeder.
func (m *Metrics) FetchError(feeder string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(feeder).Inc()
}

// Samples counts merged and rejected samples of one fetch.
func (m *Metrics) Samples(feeder string, merged, rejected int) {
	if m == nil {
		return
	}
	m.samplesMerged.WithLabelValues(feeder).Add(float64(merged))
	m.samplesRejected.WithLabelValues(feeder).Add(float64(rejected))
}

// Records sets the live record count of a store.
func (m *Metrics) Records(ns string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(ns).Set(float64(n))
}

// QueueDepth sets the pending request count of a queue.
func (m *Metrics) QueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

// RequestDropped counts a request discarded without an upstream call.
func (m *Metrics) RequestDropped(queue, reason string) {
	if m == nil {
		return
	}
	m.droppedRequests.WithLabelValues(queue, reason).Inc()
}

// UpstreamCall counts a call to provider with its outcome (ok, error, rate_limited).
func (m *Metrics) UpstreamCall(provider, status string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(provider, status).Inc()
}

// OutlinePoints sets the occupied bucket count of a feeder's outline.
func (m *Metrics) OutlinePoints(feeder string, n int) {
	if m == nil {
		return
	}
	m.outlinePoints.WithLabelValues(feeder).Set(float64(n))
}

// Archived counts one record handled by the archive job.
func (m *Metrics) Archived(outcome string) {
	if m == nil {
		return
	}
	m.archived.WithLabelValues(outcome).Inc()
}

// Enrichment counts one enrichment lookup.
func (m *Metrics) Enrichment(source, outcome string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(source, outcome).Inc()
}
