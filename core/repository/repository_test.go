package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-orchestrator/core/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewDBFromConn(conn), mock
}

func TestJobRepositoryCreateJobWritesEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := models.NewRetrainingJob(models.RetrainingRequest{
		ModelType: models.ModelTypeRecommendation,
		Reason:    models.ReasonManual,
	}, time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO retraining_jobs")).
		WithArgs(job.ID, "recommendation", "manual", "normal", "queued",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_events")).
		WithArgs(job.ID, nil, "queued", "job_created", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryUpdateJobStatusRollsBackOnEventFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := &models.RetrainingJob{ID: "j1", ModelType: models.ModelTypeRecommendation, Status: models.JobStatusFailed, Error: "boom"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE retraining_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_events")).
		WithArgs("j1", "running", "failed", "execution_failed", `{"error":"boom"}`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.UpdateJobStatus(context.Background(), job, models.JobStatusRunning, "execution_failed",
		map[string]interface{}{"error": "boom"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "model_type", "reason", "priority", "status", "progress", "submitted_at", "started_at",
		"finished_at", "evaluation_json", "decision_json", "candidate_model_id", "error",
	})
}

func TestJobRepositoryGetJob(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	submitted := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM retraining_jobs WHERE id = $1")).
		WithArgs("j1").
		WillReturnRows(jobRows().AddRow(
			"j1", "recommendation", "new_data_available: 1200 new samples", "normal", "deployed", 1.0,
			submitted, submitted.Add(time.Minute), submitted.Add(time.Hour),
			`{"metrics":{"accuracy":0.83},"quality_score":0.9}`,
			`{"verdict":"deploy","reason":"improved","confidence":1}`,
			"recommendation_v1", nil,
		))

	job, err := repo.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDeployed, job.Status)
	require.NotNil(t, job.StartTime)
	require.NotNil(t, job.EvaluationResults)
	assert.Equal(t, 0.83, job.EvaluationResults.Metrics["accuracy"])
	assert.Equal(t, "deploy", job.Decision.Verdict)
	assert.Equal(t, "recommendation_v1", job.CandidateModelID)
	assert.Empty(t, job.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryGetJobNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM retraining_jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(jobRows())

	_, err := repo.GetJob(context.Background(), "missing")
	assert.True(t, models.IsNotFound(err))
}

func TestJobRepositoryListJobsFiltersByType(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE model_type = $1 ORDER BY submitted_at DESC LIMIT $2")).
		WithArgs("search_ranking", 5).
		WillReturnRows(jobRows().
			AddRow("j2", "search_ranking", "manual", "normal", "failed", 0.2, now, now, now, nil, nil, nil, "oom").
			AddRow("j1", "search_ranking", "manual", "normal", "rejected", 1.0, now, now, now, nil, nil, nil, nil))

	jobs, err := repo.ListJobs(context.Background(), models.ModelTypeSearchRanking, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "oom", jobs[0].Error)
	assert.Nil(t, jobs[1].EvaluationResults)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobEventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "job_id", "at", "from_status", "to_status", "reason", "meta_json"})
}

func TestJobRepositoryGetJobEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_events WHERE job_id = $1 ORDER BY id LIMIT $2")).
		WithArgs("j1", 10).
		WillReturnRows(jobEventRows().
			AddRow(1, "j1", now, nil, "queued", "job_created", "{}").
			AddRow(2, "j1", now, "queued", "running", "started", "{}").
			AddRow(3, "j1", now, "running", "failed", "execution_failed", `{"error":"oom"}`))

	events, err := repo.GetJobEvents(context.Background(), "j1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Nil(t, events[0].FromStatus)
	assert.Equal(t, models.JobStatusQueued, events[0].ToStatus)
	require.NotNil(t, events[1].FromStatus)
	assert.Equal(t, models.JobStatusQueued, *events[1].FromStatus)
	assert.Equal(t, models.JobStatusFailed, events[2].ToStatus)
	assert.Nil(t, events[1].MetaJSON)
	assert.Equal(t, "oom", events[2].MetaJSON["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryGetJobEventsWithoutLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery(`FROM job_events WHERE job_id = \$1 ORDER BY id$`).
		WithArgs("missing").
		WillReturnRows(jobEventRows())

	events, err := repo.GetJobEvents(context.Background(), "missing", 0)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryGetJobEventsBadMeta(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_events")).
		WithArgs("j1", 5).
		WillReturnRows(jobEventRows().AddRow(7, "j1", time.Now(), "running", "failed", "execution_failed", "{not json"))

	_, err := repo.GetJobEvents(context.Background(), "j1", 5)
	assert.ErrorContains(t, err, "decode meta for job event 7")
}

func TestArtifactRepositoryRoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArtifactRepository(db)
	updated := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	rec := &models.RegistryRecord{
		ModelType: models.ModelTypeRecommendation,
		Artifacts: []*models.ModelArtifact{{
			ModelID:          "recommendation_v1",
			ModelType:        models.ModelTypeRecommendation,
			Version:          "v1",
			DeploymentStatus: models.DeploymentDeployed,
		}},
		LastUpdated: updated,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO model_registries")).
		WithArgs("recommendation", sqlmock.AnyArg(), updated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveRegistry(context.Background(), rec))

	mock.ExpectQuery(regexp.QuoteMeta("FROM model_registries")).
		WillReturnRows(sqlmock.NewRows([]string{"model_type", "artifacts_json", "last_updated"}).
			AddRow("recommendation", `[{"model_id":"recommendation_v1","version":"v1","deployment_status":"deployed"}]`, updated))

	records, err := repo.LoadRegistries(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Artifacts, 1)
	assert.Equal(t, models.DeploymentDeployed, records[0].Artifacts[0].DeploymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryLatest(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedbackRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback_summaries")).
		WithArgs("personalization").
		WillReturnRows(sqlmock.NewRows([]string{
			"model_type", "record_count", "mean_satisfaction", "mean_engagement", "window_start", "window_end", "created_at",
		}).AddRow("personalization", 100, 0.72, `{"clicks":3.5}`, now, now, now))

	s, err := repo.LatestFeedbackSummary(context.Background(), models.ModelTypePersonalization)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 3.5, s.MeanEngagement["clicks"])

	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback_summaries")).
		WithArgs("search_ranking").
		WillReturnRows(sqlmock.NewRows([]string{
			"model_type", "record_count", "mean_satisfaction", "mean_engagement", "window_start", "window_end", "created_at",
		}))
	_, err = repo.LatestFeedbackSummary(context.Background(), models.ModelTypeSearchRanking)
	assert.True(t, models.IsNotFound(err))
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test")
}

func TestRedisStorePerformanceHistory(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []float64{0.9, 0.88, 0.85} {
		require.NoError(t, store.AppendPerformance(ctx, models.ModelTypeRecommendation, models.PerformanceHistoryEntry{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Value:     v,
		}))
	}

	all, err := store.PerformanceHistory(ctx, models.ModelTypeRecommendation, base)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 0.9, all[0].Value)

	require.NoError(t, store.TrimPerformance(ctx, models.ModelTypeRecommendation, base.Add(24*time.Hour)))
	rest, err := store.PerformanceHistory(ctx, models.ModelTypeRecommendation, time.Time{})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, 0.88, rest[0].Value)

	other, err := store.PerformanceHistory(ctx, models.ModelTypePersonalization, base)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRedisStoreTriggerStatus(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	require.NoError(t, store.SaveTriggerStatus(ctx, &models.TriggerStatus{
		ModelType: models.ModelTypeSearchRanking, LastReason: models.ReasonNewDataAvailable, JobID: "j1",
	}))
	require.NoError(t, store.SaveTriggerStatus(ctx, &models.TriggerStatus{
		ModelType: models.ModelTypeSearchRanking, LastReason: models.ReasonScheduledInterval, Suppressed: true,
	}))

	statuses, err := store.LoadTriggerStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ReasonScheduledInterval, statuses[0].LastReason)
	assert.True(t, statuses[0].Suppressed)
}

func TestMemoryJobStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	base := time.Now()

	older := models.NewRetrainingJob(models.RetrainingRequest{ModelType: models.ModelTypeRecommendation, Reason: models.ReasonManual}, base)
	newer := models.NewRetrainingJob(models.RetrainingRequest{ModelType: models.ModelTypeRecommendation, Reason: models.ReasonManual}, base.Add(time.Minute))
	other := models.NewRetrainingJob(models.RetrainingRequest{ModelType: models.ModelTypeSearchRanking, Reason: models.ReasonManual}, base)
	for _, j := range []*models.RetrainingJob{older, newer, other} {
		require.NoError(t, store.CreateJob(ctx, j))
	}

	newer.Status = models.JobStatusRunning
	require.NoError(t, store.UpdateJobStatus(ctx, newer, models.JobStatusQueued, "started", nil))

	jobs, err := store.ListJobs(ctx, models.ModelTypeRecommendation, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)
	assert.Equal(t, models.JobStatusRunning, jobs[0].Status)

	events, err := store.GetJobEvents(ctx, newer.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[1].Reason)

	unfinished, err := store.ListUnfinishedJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 3)

	_, err = store.GetJob(ctx, "nope")
	assert.True(t, models.IsNotFound(err))
}

func TestFileRegistryStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileRegistryStore(fs, "/data/registry")
	require.NoError(t, err)
	ctx := context.Background()

	records, err := store.LoadRegistries(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, mt := range []models.ModelType{models.ModelTypeSearchRanking, models.ModelTypeRecommendation} {
		require.NoError(t, store.SaveRegistry(ctx, &models.RegistryRecord{
			ModelType: mt,
			Artifacts: []*models.ModelArtifact{{
				ModelID:            string(mt) + "-1",
				ModelType:          mt,
				Version:            "v1",
				DeploymentStatus:   models.DeploymentDeployed,
				PerformanceMetrics: map[string]float64{"accuracy": 0.8},
			}},
			LastUpdated: now,
		}))
	}
	// overwrite keeps a single file per type
	require.NoError(t, store.SaveRegistry(ctx, &models.RegistryRecord{ModelType: models.ModelTypeRecommendation, LastUpdated: now}))

	records, err = store.LoadRegistries(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ModelTypeRecommendation, records[0].ModelType)
	assert.Empty(t, records[0].Artifacts)
	assert.Equal(t, models.ModelTypeSearchRanking, records[1].ModelType)
	assert.Equal(t, 0.8, records[1].Artifacts[0].PerformanceMetrics["accuracy"])
	assert.True(t, now.Equal(records[1].LastUpdated))

	exists, err := afero.Exists(fs, "/data/registry/recommendation.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}
