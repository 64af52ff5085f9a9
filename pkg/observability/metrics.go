// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for pipeline runs.
package observability

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PipelineMetrics holds all Prometheus metrics for a pipeline run.
type PipelineMetrics struct {
	StageRunsTotal *prometheus.CounterVec
	StageSeconds   *prometheus.HistogramVec
	StageRecords   *prometheus.GaugeVec
	StageErrors    *prometheus.CounterVec
	LastRunSuccess prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewPipelineMetrics registers the pipeline metrics on reg.
func NewPipelineMetrics(reg *prometheus.Registry) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		StageRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookpipe_stage_runs_total",
				Help: "Stage executions by outcome",
			},
			[]string{"stage", "status"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookpipe_stage_seconds",
				Help:    "Wall time per stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		StageRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookpipe_stage_records",
				Help: "Audit counters reported by the last stage execution",
			},
			[]string{"stage", "counter"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookpipe_stage_errors_total",
				Help: "Stage failures by error code",
			},
			[]string{"stage", "code"},
		),
		LastRunSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bookpipe_last_run_success",
				Help: "1 if the last run completed every stage, 0 otherwise",
			},
		),
		gatherer: reg,
	}
}

// RecordStage records one stage execution.
func (m *PipelineMetrics) RecordStage(stage, status string, seconds float64) {
	m.StageRunsTotal.WithLabelValues(stage, status).Inc()
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordCounters publishes a stage's audit counters.
func (m *PipelineMetrics) RecordCounters(stage string, counters map[string]int64) {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.StageRecords.WithLabelValues(stage, name).Set(float64(counters[name]))
	}
}

// RecordError counts a stage failure.
func (m *PipelineMetrics) RecordError(stage, code string) {
	m.StageErrors.WithLabelValues(stage, code).Inc()
}

// SetRunSuccess records the outcome of a whole run.
func (m *PipelineMetrics) SetRunSuccess(ok bool) {
	if ok {
		m.LastRunSuccess.Set(1)
		return
	}
	m.LastRunSuccess.Set(0)
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for pickup by a node exporter textfile collector.
func (m *PipelineMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
