package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"model-orchestrator/core/models"
)

// JobRepository handles database operations for retraining jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, model_type, reason, priority, status, progress, submitted_at, started_at,
	finished_at, evaluation_json, decision_json, candidate_model_id, error`

// CreateJob inserts a job and its creation event
func (r *JobRepository) CreateJob(ctx context.Context, job *models.RetrainingJob) error {
	evaluation, decision, err := encodeResults(job)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO retraining_jobs (` + jobColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.ModelType,
		job.Reason,
		job.Priority,
		job.Status,
		job.Progress,
		job.SubmittedAt,
		job.StartTime,
		job.EndTime,
		evaluation,
		decision,
		nullString(job.CandidateModelID),
		nullString(job.Error),
	)
	if err != nil {
		return err
	}

	// Create initial event
	if err := createJobEventTx(ctx, tx, job.ID, nil, job.Status, "job_created", nil); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateJobStatus writes the job's current state atomically with an event for the transition
func (r *JobRepository) UpdateJobStatus(ctx context.Context, job *models.RetrainingJob, fromStatus models.JobStatus, reason string, meta map[string]interface{}) error {
	evaluation, decision, err := encodeResults(job)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE retraining_jobs
		SET status = $1, progress = $2, started_at = $3, finished_at = $4, evaluation_json = $5,
			decision_json = $6, candidate_model_id = $7, error = $8, updated_at = NOW()
		WHERE id = $9
	`
	_, err = tx.ExecContext(ctx, updateQuery,
		job.Status,
		job.Progress,
		job.StartTime,
		job.EndTime,
		evaluation,
		decision,
		nullString(job.CandidateModelID),
		nullString(job.Error),
		job.ID,
	)
	if err != nil {
		return err
	}

	if err := createJobEventTx(ctx, tx, job.ID, &fromStatus, job.Status, reason, meta); err != nil {
		return err
	}
	return tx.Commit()
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.RetrainingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM retraining_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "job_id", Key: id}
	}
	return job, err
}

// ListJobs lists jobs newest first, optionally filtered by model type
func (r *JobRepository) ListJobs(ctx context.Context, modelType models.ModelType, limit int) ([]*models.RetrainingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM retraining_jobs`
	args := []interface{}{}
	argIndex := 1

	if modelType != "" {
		query += fmt.Sprintf(" WHERE model_type = $%d", argIndex)
		args = append(args, modelType)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	return r.queryJobs(ctx, query, args...)
}

// ListUnfinishedJobs returns jobs still queued or running
func (r *JobRepository) ListUnfinishedJobs(ctx context.Context) ([]*models.RetrainingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM retraining_jobs WHERE status IN ($1, $2) ORDER BY submitted_at`
	return r.queryJobs(ctx, query, models.JobStatusQueued, models.JobStatusRunning)
}

// GetJobEvents returns the transition events of a job, oldest first. A limit of zero returns all of them.
func (r *JobRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	query := `SELECT id, job_id, at, from_status, to_status, reason, meta_json FROM job_events WHERE job_id = $1 ORDER BY id`
	args := []interface{}{jobID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		event, err := scanJobEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.RetrainingJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.RetrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.RetrainingJob, error) {
	var job models.RetrainingJob
	var startedAt, finishedAt sql.NullTime
	var evaluation, decision, candidate, errText sql.NullString

	err := row.Scan(
		&job.ID,
		&job.ModelType,
		&job.Reason,
		&job.Priority,
		&job.Status,
		&job.Progress,
		&job.SubmittedAt,
		&startedAt,
		&finishedAt,
		&evaluation,
		&decision,
		&candidate,
		&errText,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		job.StartTime = &startedAt.Time
	}
	if finishedAt.Valid {
		job.EndTime = &finishedAt.Time
	}
	if evaluation.Valid && evaluation.String != "" {
		job.EvaluationResults = &models.EvaluationResults{}
		if err := json.Unmarshal([]byte(evaluation.String), job.EvaluationResults); err != nil {
			return nil, fmt.Errorf("decode evaluation for job %s: %w", job.ID, err)
		}
	}
	if decision.Valid && decision.String != "" {
		job.Decision = &models.JobDecision{}
		if err := json.Unmarshal([]byte(decision.String), job.Decision); err != nil {
			return nil, fmt.Errorf("decode decision for job %s: %w", job.ID, err)
		}
	}
	job.CandidateModelID = candidate.String
	job.Error = errText.String

	return &job, nil
}

func scanJobEvent(row rowScanner) (models.JobEvent, error) {
	var event models.JobEvent
	var from sql.NullString
	var meta []byte

	if err := row.Scan(&event.ID, &event.JobID, &event.At, &from, &event.ToStatus, &event.Reason, &meta); err != nil {
		return event, err
	}
	if from.Valid {
		status := models.JobStatus(from.String)
		event.FromStatus = &status
	}
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &event.MetaJSON); err != nil {
			return event, fmt.Errorf("decode meta for job event %d: %w", event.ID, err)
		}
	}
	return event, nil
}

func createJobEventTx(ctx context.Context, tx *sql.Tx, jobID string, fromStatus *models.JobStatus, toStatus models.JobStatus, reason string, meta map[string]interface{}) error {
	query := `
		INSERT INTO job_events (job_id, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5)
	`

	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	metaJSON := "{}"
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode event meta: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := tx.ExecContext(ctx, query, jobID, fromStatusStr, toStatus, reason, metaJSON)
	return err
}

func encodeResults(job *models.RetrainingJob) (evaluation, decision *string, err error) {
	if job.EvaluationResults != nil {
		b, err := json.Marshal(job.EvaluationResults)
		if err != nil {
			return nil, nil, err
		}
		s := string(b)
		evaluation = &s
	}
	if job.Decision != nil {
		b, err := json.Marshal(job.Decision)
		if err != nil {
			return nil, nil, err
		}
		s := string(b)
		decision = &s
	}
	return evaluation, decision, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
