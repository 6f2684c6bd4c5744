package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of ingestion jobs waiting for a worker",
		},
	)

	// JobsTotal counts finished and rejected jobs.
	// Labels: status (done, failed, rejected)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of ingestion jobs by final status",
		},
		[]string{"status"},
	)

	// RetriesTotal counts repeated attempts.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total number of ingestion retries",
		},
	)

	// JobDuration tracks time from dequeue to completion, retries included.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of ingestion jobs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)
