package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(schedulerRunsTotal, schedulerRunDuration)
}

var (
	schedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Maintenance task runs by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	schedulerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Wall time of maintenance task runs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

func ObserveSchedulerRun(task string, success bool, d time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	schedulerRunsTotal.WithLabelValues(norm(task), outcome).Inc()
	schedulerRunDuration.WithLabelValues(norm(task)).Observe(d.Seconds())
}
