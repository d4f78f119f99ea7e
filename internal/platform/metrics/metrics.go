// Package metrics holds the Prometheus collectors for the diagnosis pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages.
const (
	StageUpload    = "upload"
	StageImageSave = "image_save"
	StageInference = "inference"
	StageNormalize = "normalize"
	StageResult    = "result_save"
)

// Pipeline outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeValidation       = "validation_failed"
	OutcomeNotFound         = "not_found"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeUploadFailed     = "upload_failed"
	OutcomeInferenceFailed  = "inference_failed"
	OutcomePersistenceError = "persistence_failed"
)

// PipelineMetrics is a prometheus.Collector. A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	Runs             *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	UpstreamFailures *prometheus.CounterVec
	InFlight         prometheus.Gauge
}

func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_diagnosis_runs_total",
				Help: "Diagnosis pipeline runs partitioned by entry path and outcome.",
			},
			[]string{"entry", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_pipeline_stage_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 16), // 5ms to ~160s
			},
			[]string{"stage"},
		),
		UpstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_upstream_failures_total",
				Help: "Failed calls to external collaborators.",
			},
			[]string{"target"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xray_pipeline_in_flight",
			Help: "Pipeline runs currently executing.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Runs.Describe(ch)
	m.StageDuration.Describe(ch)
	m.UpstreamFailures.Describe(ch)
	m.InFlight.Describe(ch)
}

func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Runs.Collect(ch)
	m.StageDuration.Collect(ch)
	m.UpstreamFailures.Collect(ch)
	m.InFlight.Collect(ch)
}

// Stage starts timing a stage; call the returned func when it ends.
func (m *PipelineMetrics) Stage(stage string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (m *PipelineMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *PipelineMetrics) RunFinished(entry, outcome string) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Runs.WithLabelValues(entry, outcome).Inc()
}

func (m *PipelineMetrics) UpstreamFailed(target string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(target).Inc()
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry on GET /metrics.
func Handler(registry *prometheus.Registry) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}
