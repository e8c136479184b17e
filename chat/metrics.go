package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "jobs_enqueued_total",
		Help:      "Number of generation jobs handed to the scheduler.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "jobs_completed_total",
		Help:      "Number of generation jobs that reached the complete state.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "jobs_failed_total",
		Help:      "Number of generation jobs that reached the failed state.",
	})
	jobsRedelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "jobs_redelivered_total",
		Help:      "Number of job re-deliveries after a retryable failure.",
	})
	patchWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "patch_writes_total",
		Help:      "Number of incremental content patches persisted.",
	})
	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "typewriter",
		Subsystem: "generation",
		Name:      "stream_duration_seconds",
		Help:      "Wall-clock duration of one token stream.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
	})
)
