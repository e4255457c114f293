package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrain_jobs_submitted_total",
			Help: "Total number of retraining requests accepted by the scheduler",
		},
		[]string{"model_type", "priority"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrain_jobs_finished_total",
			Help: "Total number of retraining jobs that reached a terminal status",
		},
		[]string{"model_type", "status"},
	)

	ModelDeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_deployments_total",
			Help: "Total number of champion changes",
		},
		[]string{"model_type", "source"}, // auto, admin, rollback
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrain_triggers_total",
			Help: "Retraining triggers observed, by outcome",
		},
		[]string{"model_type", "reason", "outcome"}, // outcome: emitted, suppressed, error
	)

	// Gauges
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrain_jobs_active",
			Help: "Current number of running retraining jobs",
		},
	)

	QueuedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrain_jobs_queued",
			Help: "Current number of queued retraining requests",
		},
	)

	CurrentPerformance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_current_performance",
			Help: "Latest live performance sample per model type",
		},
		[]string{"model_type"},
	)

	FeedbackBufferSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedback_buffer_size",
			Help: "Buffered feedback records awaiting aggregation",
		},
		[]string{"model_type"},
	)

	// Histogram for job wall-clock duration
	// Buckets: 1s .. ~4.5h
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrain_job_duration_seconds",
			Help:    "Retraining job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"model_type"},
	)
)
