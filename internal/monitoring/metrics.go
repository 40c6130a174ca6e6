// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Extraction outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors for fetching and extraction. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal     *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	extractionsTotal *prometheus.CounterVec
	extractionTime   prometheus.Histogram
	diagnosticsTotal *prometheus.CounterVec
	recordsWritten   *prometheus.CounterVec
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace       string
	EnableGoMetrics bool
}

// NewMetrics creates collectors on a private registry.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "parsz"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "fetches_total",
			Help:      "Remote documents fetched, by HTTP status (0 for transport errors)",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching remote documents",
			Buckets:   prometheus.DefBuckets,
		}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "extractions_total",
			Help:      "Top-level extractions, by outcome",
		}, []string{"outcome"}),
		extractionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent evaluating a parselet, remote fetches included",
			Buckets:   prometheus.DefBuckets,
		}),
		diagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostics raised during extraction, by reason",
		}, []string{"reason"}),
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "records_written_total",
			Help:      "Records written to output sinks, by format",
		}, []string{"format"}),
	}

	reg.MustRegister(m.fetchesTotal, m.fetchDuration, m.extractionsTotal,
		m.extractionTime, m.diagnosticsTotal, m.recordsWritten)
	if config.EnableGoMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// RecordFetch records one fetch. Status 0 means the request never got a
// response.
func (m *Metrics) RecordFetch(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// RecordExtraction records one top-level extraction.
func (m *Metrics) RecordExtraction(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.extractionsTotal.WithLabelValues(outcome).Inc()
	m.extractionTime.Observe(d.Seconds())
}

// RecordDiagnostic counts a diagnostic by reason.
func (m *Metrics) RecordDiagnostic(reason string) {
	if m == nil {
		return
	}
	m.diagnosticsTotal.WithLabelValues(reason).Inc()
}

// RecordWrite counts a record written to an output sink.
func (m *Metrics) RecordWrite(format string) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(format).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
