// Package observability holds the Prometheus metrics of the research pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "factcheck"

// Metrics are the research pipeline counters and histograms. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// ResearchTotal counts finished pipelines.
	// Labels: outcome (persisted, duplicate, failed)
	ResearchTotal *prometheus.CounterVec

	// StageFailuresTotal counts degraded stages.
	// Labels: stage (dedup, profile, web_extraction, llm_research, enhancement)
	StageFailuresTotal *prometheus.CounterVec

	// StatusTotal counts persisted verdicts by status.
	StatusTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures one pipeline run end to end.
	PipelineDurationSeconds prometheus.Histogram

	// FetchTotal counts page fetches by result (ok, error).
	FetchTotal *prometheus.CounterVec

	// ToolCallsTotal counts model-directed tool invocations by tool name.
	ToolCallsTotal *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResearchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "research",
				Name:      "requests_total",
				Help:      "Research pipelines by outcome",
			},
			[]string{"outcome"},
		),
		StageFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "research",
				Name:      "stage_failures_total",
				Help:      "Non-fatal stage failures by stage",
			},
			[]string{"stage"},
		),
		StatusTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "research",
				Name:      "status_total",
				Help:      "Persisted results by fact-check status",
			},
			[]string{"status"},
		),
		PipelineDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "research",
				Name:      "duration_seconds",
				Help:      "Research pipeline duration in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		),
		FetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "web",
				Name:      "fetch_total",
				Help:      "Evidence page fetches by result",
			},
			[]string{"result"},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "web",
				Name:      "tool_calls_total",
				Help:      "Tool invocations issued by the search agent",
			},
			[]string{"tool"},
		),
	}
}

func (m *Metrics) RecordOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ResearchTotal.WithLabelValues(outcome).Inc()
	m.PipelineDurationSeconds.Observe(seconds)
}

func (m *Metrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	m.StatusTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.FetchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordToolCall(tool string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool).Inc()
}
