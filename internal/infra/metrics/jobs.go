package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsEnqueuedTotal,
		jobsDeduplicatedTotal,
		jobsClaimedTotal,
		jobsFinishedTotal,
		jobDurationSeconds,
		jobsInFlight,
		jobsCleanedTotal,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs inserted into the queue, by type.",
		},
		[]string{"type"},
	)

	jobsDeduplicatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_deduplicated_total",
			Help: "Enqueue requests answered with an existing active job.",
		},
		[]string{"type"},
	)

	jobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Jobs moved from pending to processing.",
		},
		[]string{"type"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Handler runs by type and resulting status.",
		},
		[]string{"type", "status"}, // 'completed', 'retry', 'failed'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Handler wall-clock time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"type"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Jobs currently being executed by this worker pool.",
		},
	)

	jobsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_cleaned_total",
			Help: "Terminal jobs removed by retention cleanup.",
		},
	)
)

func IncJobEnqueued(jobType string)     { jobsEnqueuedTotal.WithLabelValues(norm(jobType)).Inc() }
func IncJobDeduplicated(jobType string) { jobsDeduplicatedTotal.WithLabelValues(norm(jobType)).Inc() }
func IncJobClaimed(jobType string)      { jobsClaimedTotal.WithLabelValues(norm(jobType)).Inc() }

func ObserveJobFinished(jobType, status string, d time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(jobType)).Observe(d.Seconds())
}

func SetJobsInFlight(n int64) { jobsInFlight.Set(float64(n)) }

func AddJobsCleaned(n int) { jobsCleanedTotal.Add(float64(n)) }
