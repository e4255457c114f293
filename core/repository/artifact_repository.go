package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"model-orchestrator/core/models"
)

// ArtifactRepository persists the per-model-type artifact registry
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// SaveRegistry upserts the registry record of one model type
func (r *ArtifactRepository) SaveRegistry(ctx context.Context, rec *models.RegistryRecord) error {
	artifactsJSON, err := json.Marshal(rec.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts for %s: %w", rec.ModelType, err)
	}

	query := `
		INSERT INTO model_registries (model_type, artifacts_json, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (model_type) DO UPDATE
		SET artifacts_json = EXCLUDED.artifacts_json, last_updated = EXCLUDED.last_updated
	`

	_, err = r.db.ExecContext(ctx, query, rec.ModelType, string(artifactsJSON), rec.LastUpdated)
	return err
}

// LoadRegistries returns every persisted registry record
func (r *ArtifactRepository) LoadRegistries(ctx context.Context) ([]*models.RegistryRecord, error) {
	query := `
		SELECT model_type, artifacts_json, last_updated
		FROM model_registries
		ORDER BY model_type
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.RegistryRecord
	for rows.Next() {
		var rec models.RegistryRecord
		var artifactsJSON string

		if err := rows.Scan(&rec.ModelType, &artifactsJSON, &rec.LastUpdated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(artifactsJSON), &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts for %s: %w", rec.ModelType, err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
