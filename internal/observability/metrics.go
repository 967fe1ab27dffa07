package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Attest.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram

	// Security metrics.
	SecurityViolationsTotal *prometheus.CounterVec

	// Validation metrics.
	ValidationVerdictsTotal *prometheus.CounterVec
	EvidenceFilesCollected  prometheus.Histogram

	// Enrichment metrics.
	EnrichmentAnalysesTotal *prometheus.CounterVec
	EnrichmentCostTotal     prometheus.Counter

	// HTTP API metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRuns prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandboxed runner executions.",
		}, []string{"status"}), // completed, timeout, spawn_error, denied

		SandboxExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attest",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of sandboxed executions in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}),

		SecurityViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "security",
			Name:      "violations_total",
			Help:      "Total requests rejected before spawning a process.",
		}, []string{"kind"}), // path, command

		ValidationVerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "validation",
			Name:      "verdicts_total",
			Help:      "Total validation verdicts by outcome.",
		}, []string{"result"}), // passed, failed, invalid

		EvidenceFilesCollected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attest",
			Subsystem: "evidence",
			Name:      "files_collected",
			Help:      "Number of evidence files collected per run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),

		EnrichmentAnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "enrichment",
			Name:      "analyses_total",
			Help:      "Total vision-model enrichment calls.",
		}, []string{"status"}), // success, error

		EnrichmentCostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "enrichment",
			Name:      "cost_usd_total",
			Help:      "Accumulated enrichment spend in USD.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attest",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attest",
			Name:      "active_runs",
			Help:      "Number of validation runs currently in flight.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SecurityViolationsTotal,
		m.ValidationVerdictsTotal,
		m.EvidenceFilesCollected,
		m.EnrichmentAnalysesTotal,
		m.EnrichmentCostTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRuns,
	)

	return m
}

// RecordExecution records one sandbox execution outcome. Nil-safe.
func (m *MetricsCollector) RecordExecution(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SandboxExecutionsTotal.WithLabelValues(status).Inc()
	m.SandboxExecutionDuration.Observe(durationSeconds)
}

// RecordViolation records a pre-spawn security rejection. Nil-safe.
func (m *MetricsCollector) RecordViolation(kind string) {
	if m == nil {
		return
	}
	m.SecurityViolationsTotal.WithLabelValues(kind).Inc()
}

// RecordVerdict records a validation verdict outcome. Nil-safe.
func (m *MetricsCollector) RecordVerdict(result string) {
	if m == nil {
		return
	}
	m.ValidationVerdictsTotal.WithLabelValues(result).Inc()
}

// RecordEnrichment records one enrichment call and its cost. Nil-safe.
func (m *MetricsCollector) RecordEnrichment(status string, costUSD float64) {
	if m == nil {
		return
	}
	m.EnrichmentAnalysesTotal.WithLabelValues(status).Inc()
	if costUSD > 0 {
		m.EnrichmentCostTotal.Add(costUSD)
	}
}
