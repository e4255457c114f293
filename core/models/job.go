package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ModelType identifies a family of models retrained independently
type ModelType string

const (
	ModelTypeRecommendation    ModelType = "recommendation"
	ModelTypePersonalization   ModelType = "personalization"
	ModelTypeSearchRanking     ModelType = "search_ranking"
	ModelTypeContentGeneration ModelType = "content_generation"
)

// DefaultModelTypes lists the model types known out of the box
func DefaultModelTypes() []ModelType {
	return []ModelType{
		ModelTypeRecommendation,
		ModelTypePersonalization,
		ModelTypeSearchRanking,
		ModelTypeContentGeneration,
	}
}

// Priority is the admission band of a retraining request
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityNormal    Priority = "normal"
)

// TriggerReason is the cause recorded on a retraining job
type TriggerReason string

const (
	ReasonPerformanceDegradation TriggerReason = "performance_degradation"
	ReasonNewDataAvailable       TriggerReason = "new_data_available"
	ReasonScheduledInterval      TriggerReason = "scheduled_interval"
	ReasonManual                 TriggerReason = "manual"
)

// JobStatus represents the current status of a retraining job
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusRunning          JobStatus = "running"
	JobStatusDeployed         JobStatus = "deployed"
	JobStatusAwaitingApproval JobStatus = "awaiting_approval"
	JobStatusRejected         JobStatus = "rejected"
	JobStatusFailed           JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDeployed, JobStatusAwaitingApproval, JobStatusRejected, JobStatusFailed:
		return true
	}
	return false
}

// RetrainingRequest asks the scheduler for a new retraining job
type RetrainingRequest struct {
	ModelType ModelType
	Reason    TriggerReason
	Priority  Priority
	Detail    string // free text appended to the reason
}

// EvaluationResults holds the metrics an evaluator produced for a candidate
type EvaluationResults struct {
	Metrics      map[string]float64 `json:"metrics"`
	QualityScore float64            `json:"quality_score"`
	SampleSize   int                `json:"sample_size,omitempty"`
}

// JobDecision records the deployment verdict applied to a job
type JobDecision struct {
	Verdict    string  `json:"verdict"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// RetrainingJob is one unit of work producing and evaluating a candidate model
type RetrainingJob struct {
	ID                string             `json:"id"`
	ModelType         ModelType          `json:"model_type"`
	Reason            string             `json:"reason"`
	Priority          Priority           `json:"priority"`
	Status            JobStatus          `json:"status"`
	Progress          float64            `json:"progress"`
	SubmittedAt       time.Time          `json:"submitted_at"`
	StartTime         *time.Time         `json:"start_time,omitempty"`
	EndTime           *time.Time         `json:"end_time,omitempty"`
	EvaluationResults *EvaluationResults `json:"evaluation_results,omitempty"`
	Decision          *JobDecision       `json:"decision,omitempty"`
	CandidateModelID  string             `json:"candidate_model_id,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// NewRetrainingJob builds a queued job for a request.
// The ID combines model type, submission time and trigger kind plus a short random suffix.
func NewRetrainingJob(req RetrainingRequest, now time.Time) *RetrainingJob {
	reason := string(req.Reason)
	if req.Detail != "" {
		reason = reason + ": " + req.Detail
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &RetrainingJob{
		ID:          NewJobID(req.ModelType, req.Reason, now),
		ModelType:   req.ModelType,
		Reason:      reason,
		Priority:    priority,
		Status:      JobStatusQueued,
		SubmittedAt: now,
	}
}

// NewJobID derives a globally unique job id
func NewJobID(modelType ModelType, reason TriggerReason, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s", modelType, reason, now.UTC().Format("20060102T150405"), suffix)
}

// Clone returns a deep copy safe to hand out to readers
func (j *RetrainingJob) Clone() *RetrainingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartTime != nil {
		t := *j.StartTime
		c.StartTime = &t
	}
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	if j.EvaluationResults != nil {
		er := *j.EvaluationResults
		er.Metrics = copyMetrics(j.EvaluationResults.Metrics)
		c.EvaluationResults = &er
	}
	if j.Decision != nil {
		d := *j.Decision
		c.Decision = &d
	}
	return &c
}

func copyMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
