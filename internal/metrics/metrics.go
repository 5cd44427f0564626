// Package metrics exposes Prometheus instrumentation for the validation
// pipeline, batch jobs and the confirmation flow.
//
// Every method is safe on a nil *Metrics, so components take an optional
// *Metrics and never check for it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "addrintel"

// Metrics holds all collectors for the service.
type Metrics struct {
	// Validation outcomes by source ("single", "batch") and final band
	Validations *prometheus.CounterVec

	// End-to-end latency of one address validation
	ValidationLatency prometheus.Histogram

	// Oracle call latency by outcome ("ok", "error", "timeout")
	OracleLatency *prometheus.HistogramVec

	// Oracle responses rejected by the output schema
	SchemaRejections prometheus.Counter

	// Country rule set lookups by slug and outcome
	ConfigLoads *prometheus.CounterVec

	// Batch job lifecycle events ("submitted", "completed", "cancelled", "failed")
	BatchJobs *prometheus.CounterVec

	// Batch rows by final status
	BatchRows *prometheus.CounterVec

	// Jobs running or waiting for a slot
	ActiveJobs prometheus.Gauge

	// Agent triggers by action and outcome
	AgentTriggers *prometheus.CounterVec

	// Confirmations received from the agent
	Confirmations prometheus.Counter

	// HTTP request latency by method, route pattern and status code
	HTTPLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Address validations by source and confidence band",
		}, []string{"source", "band"}),

		ValidationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Duration of a single address validation including the oracle call",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),

		OracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Duration of oracle calls by outcome",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"outcome"}),

		SchemaRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_schema_rejections_total",
			Help:      "Oracle responses rejected by the output schema",
		}),

		ConfigLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_config_loads_total",
			Help:      "Country rule set lookups by slug and outcome",
		}, []string{"slug", "outcome"}),

		BatchJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Batch job lifecycle events",
		}, []string{"event"}),

		BatchRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_rows_total",
			Help:      "Batch rows by final status",
		}, []string{"status"}),

		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_jobs_active",
			Help:      "Batch jobs running or waiting for a slot",
		}),

		AgentTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_triggers_total",
			Help:      "Confirmation agent triggers by action and outcome",
		}, []string{"action", "outcome"}),

		Confirmations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmed addresses received from the agent",
		}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveValidation records one finished validation.
func (m *Metrics) ObserveValidation(source, band string, start time.Time) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(source, band).Inc()
	m.ValidationLatency.Observe(time.Since(start).Seconds())
}

// ObserveOracle records the latency of one oracle call.
func (m *Metrics) ObserveOracle(outcome string, d time.Duration) {
	if m != nil {
		m.OracleLatency.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// IncSchemaRejection counts a rejected oracle response.
func (m *Metrics) IncSchemaRejection() {
	if m != nil {
		m.SchemaRejections.Inc()
	}
}

// ConfigLoad counts a rule set lookup. It satisfies country.LoadRecorder.
func (m *Metrics) ConfigLoad(slug, outcome string) {
	if m != nil {
		m.ConfigLoads.WithLabelValues(slug, outcome).Inc()
	}
}

// JobSubmitted counts a new batch job.
func (m *Metrics) JobSubmitted() {
	if m != nil {
		m.BatchJobs.WithLabelValues("submitted").Inc()
	}
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.ActiveJobs.Inc()
	}
}

// JobFinished counts a job that ran to its end and clears it from the
// active gauge. event is "completed", "cancelled" or "failed".
func (m *Metrics) JobFinished(event string) {
	if m == nil {
		return
	}
	m.BatchJobs.WithLabelValues(event).Inc()
	m.ActiveJobs.Dec()
}

// IncRow counts a finished batch row.
func (m *Metrics) IncRow(status string) {
	if m != nil {
		m.BatchRows.WithLabelValues(status).Inc()
	}
}

// IncTrigger counts an agent trigger attempt.
func (m *Metrics) IncTrigger(action, outcome string) {
	if m != nil {
		m.AgentTriggers.WithLabelValues(action, outcome).Inc()
	}
}

// IncConfirmation counts a confirmed address.
func (m *Metrics) IncConfirmation() {
	if m != nil {
		m.Confirmations.Inc()
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m != nil {
		m.HTTPLatency.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}
