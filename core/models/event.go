package models

import "time"

// JobEvent represents a state transition event for a retraining job
type JobEvent struct {
	ID         int64                  `json:"id"`
	JobID      string                 `json:"job_id"`
	At         time.Time              `json:"at"`
	FromStatus *JobStatus             `json:"from_status,omitempty"`
	ToStatus   JobStatus              `json:"to_status"`
	Reason     string                 `json:"reason"`
	MetaJSON   map[string]interface{} `json:"meta,omitempty"`
}

// PerformanceHistoryEntry is one live performance sample
type PerformanceHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// FeedbackRecord is one user-feedback event for a model type
type FeedbackRecord struct {
	Timestamp    time.Time          `json:"timestamp"`
	ModelType    ModelType          `json:"model_type"`
	Satisfaction float64            `json:"satisfaction"`
	Engagement   map[string]float64 `json:"engagement,omitempty"`
}

// FeedbackSummary aggregates a flushed feedback buffer
type FeedbackSummary struct {
	ModelType        ModelType          `json:"model_type"`
	Count            int                `json:"count"`
	MeanSatisfaction float64            `json:"mean_satisfaction"`
	MeanEngagement   map[string]float64 `json:"mean_engagement,omitempty"`
	WindowStart      time.Time          `json:"window_start"`
	WindowEnd        time.Time          `json:"window_end"`
	CreatedAt        time.Time          `json:"created_at"`
}

// TriggerStatus is the last trigger observed for a model type
type TriggerStatus struct {
	ModelType  ModelType     `json:"model_type"`
	LastReason TriggerReason `json:"last_reason"`
	FiredAt    time.Time     `json:"fired_at"`
	JobID      string        `json:"job_id,omitempty"`
	Suppressed bool          `json:"suppressed"`
}
