package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics 任务相关的 Prometheus 指标；每个实例使用自己的 Registry，测试之间互不影响
type Metrics struct {
	Registry *prometheus.Registry

	TaskRuns        *prometheus.CounterVec
	TaskRunDuration *prometheus.HistogramVec
	Reindexes       *prometheus.CounterVec
	InFlightRuns    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "task_runs_total",
			Help:      "Task runs by outcome (completed, failed, skipped).",
		}, []string{"outcome"}),
		TaskRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "task_run_duration_seconds",
			Help:      "Duration of the model call per task run.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"mode"}),
		Reindexes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "reindex_total",
			Help:      "Index rebuilds by result.",
		}, []string{"result"}),
		InFlightRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docqa",
			Name:      "task_runs_in_flight",
			Help:      "Background task runs currently executing.",
		}),
	}
	reg.MustRegister(
		m.TaskRuns,
		m.TaskRunDuration,
		m.Reindexes,
		m.InFlightRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
