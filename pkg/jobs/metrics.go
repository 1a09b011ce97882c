package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsFinishedTotal counts jobs reaching a terminal or paused status.
	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stacks_jobs_finished_total",
		Help: "Total number of jobs that stopped running, by kind and status",
	}, []string{"kind", "status"})

	// jobTasksTotal counts executed tasks.
	jobTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stacks_job_tasks_total",
		Help: "Total number of job tasks executed, by kind",
	}, []string{"kind"})

	// jobDuration measures how long a job occupied the worker.
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stacks_job_duration_seconds",
		Help:    "Time a job spent running in seconds, by kind",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"kind"})

	// jobsQueued is the current length of the in-memory queue.
	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stacks_jobs_queued",
		Help: "Current number of jobs waiting for the worker",
	})
)
