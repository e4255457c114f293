package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"model-orchestrator/core/models"
)

// FeedbackRepository handles database operations for feedback summaries
type FeedbackRepository struct {
	db *DB
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// SaveFeedbackSummary inserts a summary record
func (r *FeedbackRepository) SaveFeedbackSummary(ctx context.Context, s *models.FeedbackSummary) error {
	engagement := "{}"
	if len(s.MeanEngagement) > 0 {
		b, err := json.Marshal(s.MeanEngagement)
		if err != nil {
			return err
		}
		engagement = string(b)
	}

	query := `
		INSERT INTO feedback_summaries (
			model_type, record_count, mean_satisfaction, mean_engagement,
			window_start, window_end, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ModelType,
		s.Count,
		s.MeanSatisfaction,
		engagement,
		s.WindowStart,
		s.WindowEnd,
		s.CreatedAt,
	)
	return err
}

// LatestFeedbackSummary returns the most recent summary for a model type
func (r *FeedbackRepository) LatestFeedbackSummary(ctx context.Context, modelType models.ModelType) (*models.FeedbackSummary, error) {
	query := `
		SELECT model_type, record_count, mean_satisfaction, mean_engagement,
			window_start, window_end, created_at
		FROM feedback_summaries
		WHERE model_type = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var s models.FeedbackSummary
	var engagement string
	err := r.db.QueryRowContext(ctx, query, modelType).Scan(
		&s.ModelType,
		&s.Count,
		&s.MeanSatisfaction,
		&engagement,
		&s.WindowStart,
		&s.WindowEnd,
		&s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{ModelType: modelType, Kind: "feedback_summary", Key: "latest"}
	}
	if err != nil {
		return nil, err
	}

	if engagement != "" && engagement != "{}" {
		if err := json.Unmarshal([]byte(engagement), &s.MeanEngagement); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
