package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// metricJobsStarted counts jobs accepted for execution by job type.
	metricJobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_jobs_started_total",
			Help: "Number of jobs accepted for execution by job type.",
		},
		[]string{"job_type"})

	// metricJobsCompleted counts terminal job transitions by type and
	// final status.
	metricJobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_jobs_completed_total",
			Help: "Number of jobs reaching a terminal status by job type and status.",
		},
		[]string{"job_type", "status"})

	// metricItemsProcessed counts processed work items sliced by outcome.
	metricItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_items_processed_total",
			Help: "Number of work items processed by job type and outcome.",
		},
		[]string{"job_type", "outcome"})

	// metricBatchDuration observes wall time from batch claim to its
	// terminal transition.
	metricBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumina_batch_duration_seconds",
			Help:    "Batch execution duration from claim to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"job_type"})

	// metricJobsRunning gauges currently executing jobs.
	metricJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumina_jobs_running",
			Help: "Number of jobs currently executing.",
		})
)

func init() {
	prometheus.MustRegister(
		metricJobsStarted,
		metricJobsCompleted,
		metricItemsProcessed,
		metricBatchDuration,
		metricJobsRunning,
	)
}

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)
