package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrConcurrencyLimitReached accompanies a request that was queued instead of started.
// It is informational and never marks a failure.
var ErrConcurrencyLimitReached = errors.New("concurrency limit reached; request queued")

// ErrSchedulerStopped is returned when a request arrives after shutdown began
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// ErrDuplicateJob is returned when a job for the model type is already queued or running
var ErrDuplicateJob = errors.New("retraining job already active for model type")

// DataUnavailableError means there is no new data to train on
type DataUnavailableError struct {
	ModelType ModelType
	Err       error
}

func (e *DataUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no training data available for %s: %v", e.ModelType, e.Err)
	}
	return fmt.Sprintf("no training data available for %s", e.ModelType)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// TrainingError wraps a failure of the external training executor
type TrainingError struct {
	ModelType ModelType
	Err       error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training %s failed: %v", e.ModelType, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// EvaluationError wraps a failure of the external evaluator
type EvaluationError struct {
	ModelType ModelType
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %s failed: %v", e.ModelType, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// StorageError wraps a failed artifact write, read or registry persist
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError is returned for an unknown model id or version
type NotFoundError struct {
	ModelType ModelType
	Kind      string // "model_id", "version" or "job_id"
	Key       string
}

func (e *NotFoundError) Error() string {
	if e.ModelType == "" {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s %q not found for %s", e.Kind, e.Key, e.ModelType)
}

// TimeoutError is returned when a job exceeds its wall-clock budget
type TimeoutError struct {
	JobID   string
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s during %s", e.JobID, e.Timeout, e.Step)
}

// ValidationError rejects a malformed request before any state changes
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsStorage reports whether err is a StorageError
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
