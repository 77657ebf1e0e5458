package service

import (
	"time"

	"mlir-eval/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 评测过程指标，使用独立 registry，nil 时所有记录方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	GeneratedTotal  *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	CompileDuration *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GeneratedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generated_files_total",
				Help:      "Generator invocations by target directory and status",
			},
			[]string{"target", "status"},
		),
		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Outcome records by experiment and status",
			},
			[]string{"experiment", "status"},
		),
		CompileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Compiler invocation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"experiment"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed experiment runs",
			},
			[]string{"experiment"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end experiment run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"experiment"},
		),
	}
}

// Gatherer 供 /metrics 暴露
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) observeGenerate(target, status string) {
	if m == nil {
		return
	}
	m.GeneratedTotal.WithLabelValues(target, status).Inc()
}

func (m *Metrics) observeOutcome(e model.Experiment, rec model.OutcomeRecord, d time.Duration) {
	if m == nil {
		return
	}
	status := outcomeStatus(rec)
	m.OutcomesTotal.WithLabelValues(e.String(), status).Inc()
	if rec.Generated {
		m.CompileDuration.WithLabelValues(e.String()).Observe(d.Seconds())
	}
}

func (m *Metrics) observeRun(e model.Experiment, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(e.String()).Inc()
	m.RunDuration.WithLabelValues(e.String()).Observe(d.Seconds())
}

func outcomeStatus(rec model.OutcomeRecord) string {
	switch {
	case !rec.Generated:
		return "missing"
	case rec.TimedOut:
		return "timeout"
	case rec.Compiled:
		return "compiled"
	default:
		return "failed"
	}
}
