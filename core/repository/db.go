package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the Postgres connection pool shared by the repositories
type DB struct {
	*sql.DB
}

// NewDB opens and pings a Postgres database
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: db}, nil
}

// NewDBFromConn wraps an existing pool
func NewDBFromConn(db *sql.DB) *DB {
	return &DB{DB: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS retraining_jobs (
	id                 TEXT PRIMARY KEY,
	model_type         TEXT NOT NULL,
	reason             TEXT NOT NULL,
	priority           TEXT NOT NULL,
	status             TEXT NOT NULL,
	progress           DOUBLE PRECISION NOT NULL DEFAULT 0,
	submitted_at       TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	finished_at        TIMESTAMPTZ,
	evaluation_json    JSONB,
	decision_json      JSONB,
	candidate_model_id TEXT,
	error              TEXT,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS retraining_jobs_model_type_idx ON retraining_jobs (model_type, submitted_at DESC);

CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES retraining_jobs(id) ON DELETE CASCADE,
	at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	from_status TEXT,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	meta_json   JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS model_registries (
	model_type     TEXT PRIMARY KEY,
	artifacts_json JSONB NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_summaries (
	id                BIGSERIAL PRIMARY KEY,
	model_type        TEXT NOT NULL,
	record_count      INTEGER NOT NULL,
	mean_satisfaction DOUBLE PRECISION NOT NULL,
	mean_engagement   JSONB NOT NULL DEFAULT '{}',
	window_start      TIMESTAMPTZ NOT NULL,
	window_end        TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
