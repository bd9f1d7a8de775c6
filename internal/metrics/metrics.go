// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptflow_executions_total",
			Help: "Workflow executions by final status.",
		},
		[]string{"status"},
	)
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scriptflow_execution_duration_seconds",
			Help:    "Wall-clock duration of workflow executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	ValidationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptflow_validation_failures_total",
			Help: "Validation runs that produced at least one error.",
		},
	)
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptflow_scheduler_ticks_total",
			Help: "Schedule evaluator ticks.",
		},
	)
	ScheduleFirings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptflow_schedule_firings_total",
			Help: "Scheduled workflows fired.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ValidationFailures,
		SchedulerTicks,
		ScheduleFirings,
	)
}
