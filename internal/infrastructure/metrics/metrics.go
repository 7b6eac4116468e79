package metrics

import (
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	pipelineRuns *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_runner_pipeline_runs_total",
			Help: "Pipeline runs by overall status.",
		}, []string{"status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_runner_job_runs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ci_runner_step_duration_seconds",
			Help:    "Step wall time by job and step.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"job", "step"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pipelineRuns,
		m.jobRuns,
		m.stepDuration,
	)

	return m
}

func (m *Metrics) Observe(res domain.PipelineResult) {
	m.pipelineRuns.WithLabelValues(string(res.OverallStatus)).Inc()
	for name, jr := range res.JobResults {
		m.jobRuns.WithLabelValues(name, string(jr.Status)).Inc()
		for _, sr := range jr.StepResults {
			m.stepDuration.WithLabelValues(name, sr.Name).Observe(sr.Duration.Seconds())
		}
	}
}
