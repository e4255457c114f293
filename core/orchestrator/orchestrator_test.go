package orchestrator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"model-orchestrator/config"
	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
	"model-orchestrator/core/repository"
	"model-orchestrator/storage"
)

type fakeData struct {
	mu     sync.Mutex
	counts map[models.ModelType]int
}

func (f *fakeData) NewDataCount(_ context.Context, t models.ModelType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[t], nil
}

func (f *fakeData) PrepareTrainingData(_ context.Context, t models.ModelType) (*executor.TrainingSet, error) {
	return &executor.TrainingSet{ModelType: t, Location: "mem://" + string(t), DataHash: "hash", SampleCount: 1000}, nil
}

type fakeTrainer struct {
	err error
}

func (f *fakeTrainer) Train(_ context.Context, t models.ModelType, _ *executor.TrainingSet) (*executor.ModelHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &executor.ModelHandle{ID: "handle", ModelType: t, Artifact: []byte("weights")}, nil
}

type fakeEvaluator struct {
	accuracy float64
	quality  float64
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ *executor.ModelHandle, _ models.ModelType) (*models.EvaluationResults, error) {
	return &models.EvaluationResults{
		Metrics:      map[string]float64{"accuracy": f.accuracy},
		QualityScore: f.quality,
		SampleSize:   500,
	}, nil
}

type testEnv struct {
	orch   *Orchestrator
	data   *fakeData
	jobs   *repository.MemoryJobStore
	cfg    *config.Config
	stores Stores
}

func newTestEnv(t *testing.T, mutate func(*config.Config), trainer *fakeTrainer, eval *fakeEvaluator) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Orchestrator.ModelTypes = []models.ModelType{models.ModelTypeRecommendation}
	cfg.Orchestrator.JobTimeout = 5 * time.Second
	cfg.Monitor.FeedbackFlushThreshold = 2
	if mutate != nil {
		mutate(cfg)
	}

	fs := afero.NewMemMapFs()
	blobs, err := storage.NewFSStore(fs, "/artifacts")
	require.NoError(t, err)
	regStore, err := repository.NewFileRegistryStore(fs, "/registry")
	require.NoError(t, err)

	data := &fakeData{counts: map[models.ModelType]int{}}
	jobs := repository.NewMemoryJobStore()
	stores := Stores{
		Blobs:    blobs,
		Registry: regStore,
		Jobs:     jobs,
		Feedback: repository.NewMemoryFeedbackStore(),
	}
	orch, err := New(cfg, Collaborators{Data: data, Trainer: trainer, Evaluator: eval}, stores, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, orch.Restore(context.Background()))

	return &testEnv{orch: orch, data: data, jobs: jobs, cfg: cfg, stores: stores}
}

// seedChampion stores and deploys an artifact with the given accuracy
func seedChampion(t *testing.T, o *Orchestrator, accuracy float64) *models.ModelArtifact {
	t.Helper()
	ctx := context.Background()
	a, err := o.registry.Store(ctx, models.ModelTypeRecommendation, []byte("v1"), map[string]float64{"accuracy": accuracy}, "seed", nil)
	require.NoError(t, err)
	require.NoError(t, o.DeployModel(ctx, models.ModelTypeRecommendation, a.ModelID))
	return a
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *models.RetrainingJob {
	t.Helper()
	var job *models.RetrainingJob
	require.Eventually(t, func() bool {
		j, err := o.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestBetterCandidateIsDeployed(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{accuracy: 0.83, quality: 0.9})
	old := seedChampion(t, env.orch, 0.80)

	job, err := env.orch.TriggerRetraining(context.Background(), models.ModelTypeRecommendation, "", "", "")
	require.NoError(t, err)

	final := waitTerminal(t, env.orch, job.ID)
	assert.Equal(t, models.JobStatusDeployed, final.Status)

	champion, ok := env.orch.GetChampion(models.ModelTypeRecommendation)
	require.True(t, ok)
	assert.Equal(t, final.CandidateModelID, champion.ModelID)
	assert.Equal(t, 0.83, champion.PerformanceMetrics["accuracy"])

	versions := env.orch.GetModelArtifacts(models.ModelTypeRecommendation)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsChampion)
	for _, a := range env.orch.ListArtifacts(models.ModelTypeRecommendation) {
		if a.ModelID == old.ModelID {
			assert.Equal(t, models.DeploymentRetired, a.DeploymentStatus)
		}
	}

	events, err := env.orch.GetJobEvents(context.Background(), job.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.JobStatusDeployed, events[len(events)-1].ToStatus)
}

func TestAwaitingApprovalThenOperatorDeploys(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Orchestrator.AutoDeploy = false },
		&fakeTrainer{}, &fakeEvaluator{accuracy: 0.83, quality: 0.9})
	old := seedChampion(t, env.orch, 0.80)
	ctx := context.Background()

	job, err := env.orch.TriggerRetraining(ctx, models.ModelTypeRecommendation, models.ReasonManual, models.PriorityEmergency, "operator request")
	require.NoError(t, err)
	final := waitTerminal(t, env.orch, job.ID)
	assert.Equal(t, models.JobStatusAwaitingApproval, final.Status)

	champion, _ := env.orch.GetChampion(models.ModelTypeRecommendation)
	assert.Equal(t, old.ModelID, champion.ModelID)

	require.NoError(t, env.orch.DeployModel(ctx, models.ModelTypeRecommendation, final.CandidateModelID))
	champion, _ = env.orch.GetChampion(models.ModelTypeRecommendation)
	assert.Equal(t, final.CandidateModelID, champion.ModelID)

	// rollback restores the previous champion
	require.NoError(t, env.orch.RollbackModel(ctx, models.ModelTypeRecommendation, old.Version))
	champion, _ = env.orch.GetChampion(models.ModelTypeRecommendation)
	assert.Equal(t, old.ModelID, champion.ModelID)
}

func TestTrainingFailureLeavesRegistryUnchanged(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{err: errors.New("gpu lost")}, &fakeEvaluator{accuracy: 0.9, quality: 0.9})
	old := seedChampion(t, env.orch, 0.80)

	job, err := env.orch.TriggerRetraining(context.Background(), models.ModelTypeRecommendation, "", "", "")
	require.NoError(t, err)
	final := waitTerminal(t, env.orch, job.ID)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.Error, "gpu lost")
	assert.Len(t, env.orch.ListArtifacts(models.ModelTypeRecommendation), 1)
	champion, _ := env.orch.GetChampion(models.ModelTypeRecommendation)
	assert.Equal(t, old.ModelID, champion.ModelID)
}

func TestTickTriggersOnNewData(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{accuracy: 0.83, quality: 0.9})
	env.data.counts[models.ModelTypeRecommendation] = 1000

	env.orch.Tick(context.Background())

	status, ok := env.orch.GetRetrainingTriggerStatus()[models.ModelTypeRecommendation]
	require.True(t, ok)
	assert.Equal(t, models.ReasonNewDataAvailable, status.LastReason)
	require.NotEmpty(t, status.JobID)

	final := waitTerminal(t, env.orch, status.JobID)
	// first model for the type deploys without a champion to compare against
	assert.Equal(t, models.JobStatusDeployed, final.Status)

	history, err := env.orch.GetJobHistory(context.Background(), models.ModelTypeRecommendation, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLookupsOfUnknownTypeDoNotScheduleRetraining(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{accuracy: 0.83, quality: 0.9})
	ctx := context.Background()
	const unknown models.ModelType = "unknown"
	before := env.orch.ModelTypes()

	_, ok := env.orch.GetChampion(unknown)
	assert.False(t, ok)
	assert.Empty(t, env.orch.GetModelArtifacts(unknown))
	var nf *models.NotFoundError
	assert.ErrorAs(t, env.orch.DeployModel(ctx, unknown, "x"), &nf)
	assert.ErrorAs(t, env.orch.RollbackModel(ctx, unknown, "v1"), &nf)

	assert.Equal(t, before, env.orch.ModelTypes())

	env.data.mu.Lock()
	env.data.counts[unknown] = 5000
	env.data.mu.Unlock()
	env.orch.Tick(ctx)

	_, fired := env.orch.GetRetrainingTriggerStatus()[unknown]
	assert.False(t, fired)
	assert.Empty(t, env.orch.GetActiveJobs())
	assert.Empty(t, env.orch.GetQueuedJobs())
	history, err := env.orch.GetJobHistory(ctx, unknown, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManualTriggerValidation(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{accuracy: 0.83, quality: 0.9})
	ctx := context.Background()

	_, err := env.orch.TriggerRetraining(ctx, "", "", "", "")
	assert.True(t, models.IsValidation(err))

	_, err = env.orch.TriggerRetraining(ctx, models.ModelTypeRecommendation, "", "urgent", "")
	assert.True(t, models.IsValidation(err))
}

func TestSubmitFeedbackFlushesAtThreshold(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{})
	ctx := context.Background()

	_, err := env.orch.SubmitFeedback(ctx, models.ModelTypeRecommendation, models.FeedbackRecord{Satisfaction: 1.5})
	assert.True(t, models.IsValidation(err))

	summary, err := env.orch.SubmitFeedback(ctx, models.ModelTypeRecommendation, models.FeedbackRecord{Satisfaction: 0.6})
	require.NoError(t, err)
	assert.Nil(t, summary)

	summary, err = env.orch.SubmitFeedback(ctx, models.ModelTypeRecommendation, models.FeedbackRecord{Satisfaction: 0.8})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Count)
	assert.InDelta(t, 0.7, summary.MeanSatisfaction, 1e-9)

	latest, err := env.orch.LatestFeedbackSummary(ctx, models.ModelTypeRecommendation)
	require.NoError(t, err)
	assert.Equal(t, summary.Count, latest.Count)

	_, err = env.orch.LatestFeedbackSummary(ctx, models.ModelTypeSearchRanking)
	assert.True(t, models.IsNotFound(err))
}

func TestSubmitPerformanceSample(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{})
	ctx := context.Background()

	err := env.orch.SubmitPerformanceSample(ctx, models.ModelTypeRecommendation, math.NaN())
	assert.True(t, models.IsValidation(err))

	require.NoError(t, env.orch.SubmitPerformanceSample(ctx, models.ModelTypeRecommendation, 0.71))
	v, ok := env.orch.CurrentPerformance(models.ModelTypeRecommendation)
	require.True(t, ok)
	assert.Equal(t, 0.71, v)
	assert.Len(t, env.orch.GetPerformanceHistory(models.ModelTypeRecommendation, 1), 1)
}

func TestCleanupModels(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{})
	ctx := context.Background()
	seedChampion(t, env.orch, 0.8)
	for i := 0; i < 3; i++ {
		_, err := env.orch.registry.Store(ctx, models.ModelTypeRecommendation, []byte("x"), map[string]float64{"accuracy": 0.7}, "h", nil)
		require.NoError(t, err)
	}

	_, err := env.orch.CleanupModels(ctx, models.ModelTypeRecommendation, -1)
	assert.True(t, models.IsValidation(err))

	deleted, err := env.orch.CleanupModels(ctx, models.ModelTypeRecommendation, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	_, ok := env.orch.GetChampion(models.ModelTypeRecommendation)
	assert.True(t, ok)
}

func TestRestoreReloadsRegistryAndFailsInterruptedJobs(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{})
	champion := seedChampion(t, env.orch, 0.8)

	// a job left running by a previous process
	ctx := context.Background()
	stale := models.NewRetrainingJob(models.RetrainingRequest{ModelType: models.ModelTypeRecommendation, Reason: models.ReasonManual}, time.Now())
	require.NoError(t, env.jobs.CreateJob(ctx, stale))
	stale.Status = models.JobStatusRunning
	require.NoError(t, env.jobs.UpdateJobStatus(ctx, stale, models.JobStatusQueued, "started", nil))

	restarted, err := New(env.cfg, Collaborators{Data: env.data, Trainer: &fakeTrainer{}, Evaluator: &fakeEvaluator{}}, env.stores, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, restarted.Restore(ctx))

	got, ok := restarted.GetChampion(models.ModelTypeRecommendation)
	require.True(t, ok)
	assert.Equal(t, champion.ModelID, got.ModelID)

	job, err := restarted.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestShutdownStopsAdmission(t *testing.T) {
	env := newTestEnv(t, nil, &fakeTrainer{}, &fakeEvaluator{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.orch.Run(ctx) }()

	require.NoError(t, env.orch.Shutdown(context.Background()))
	_, err := env.orch.TriggerRetraining(context.Background(), models.ModelTypeRecommendation, "", "", "")
	assert.ErrorIs(t, err, models.ErrSchedulerStopped)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	blobs, err := storage.NewFSStore(afero.NewMemMapFs(), "/artifacts")
	require.NoError(t, err)

	_, err = New(config.Default(), Collaborators{}, Stores{Blobs: blobs}, zap.NewNop().Sugar())
	assert.Error(t, err)

	_, err = New(config.Default(), Collaborators{Data: &fakeData{}, Trainer: &fakeTrainer{}, Evaluator: &fakeEvaluator{}}, Stores{}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
