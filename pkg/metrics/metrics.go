package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	cvbuilder = "cvbuilder"

	jobsCreatedTotal  = "jobs_created_total"
	jobsFinishedTotal = "jobs_finished_total"
	jobDuration       = "job_duration_seconds"
	jobsClearedTotal  = "jobs_cleared_total"

	// Labels
	jobTypeLabel   = "type"
	jobStatusLabel = "status"
)

/**
* Metrics definition
**/
var jobsCreatedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: cvbuilder,
		Name:      jobsCreatedTotal,
		Help:      "number of jobs admitted, by type",
	},
	[]string{jobTypeLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: cvbuilder,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal status, by type and status",
	},
	[]string{jobTypeLabel, jobStatusLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: cvbuilder,
		Name:      jobDuration,
		Help:      "time between a job start and its completion",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{jobTypeLabel},
)

var jobsClearedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: cvbuilder,
		Name:      jobsClearedTotal,
		Help:      "number of completed jobs removed by retention",
	},
)

func IncreaseJobsCreatedMetric(jobType string) {
	jobsCreatedTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Inc()
}

func IncreaseJobsFinishedMetric(jobType, status string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{
		jobTypeLabel:   jobType,
		jobStatusLabel: status,
	}).Inc()
}

func ObserveJobDuration(jobType string, d time.Duration) {
	jobDurationMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Observe(d.Seconds())
}

func AddJobsClearedMetric(count int64) {
	jobsClearedTotalMetric.Add(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsCreatedTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(jobsClearedTotalMetric)
}
