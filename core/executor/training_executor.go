package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"model-orchestrator/core/decision"
	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/registry"
	"model-orchestrator/core/scheduler"
)

// Config toggles the deployment behaviour of the pipeline
type Config struct {
	AutoDeploy   bool
	ABTesting    bool
	KeepVersions int // post-deploy cleanup; zero disables it
}

// TrainingExecutor runs the retraining pipeline for one job:
// data, training, evaluation, optional challenger staging, decision and its application.
type TrainingExecutor struct {
	data        DataProvider
	trainer     Trainer
	evaluator   Evaluator
	experiments ExperimentClient
	registry    *registry.Registry
	engine      *decision.Engine
	cfg         Config
	logger      *zap.SugaredLogger
}

// NewTrainingExecutor creates a new training executor. experiments may be nil.
func NewTrainingExecutor(
	data DataProvider,
	trainer Trainer,
	evaluator Evaluator,
	experiments ExperimentClient,
	reg *registry.Registry,
	engine *decision.Engine,
	cfg Config,
	logger *zap.SugaredLogger,
) *TrainingExecutor {
	return &TrainingExecutor{
		data:        data,
		trainer:     trainer,
		evaluator:   evaluator,
		experiments: experiments,
		registry:    reg,
		engine:      engine,
		cfg:         cfg,
		logger:      logger.With("component", "training_executor"),
	}
}

var _ scheduler.Runner = (*TrainingExecutor)(nil)

// Run implements scheduler.Runner
func (e *TrainingExecutor) Run(ctx context.Context, job *models.RetrainingJob, progress func(float64)) (*scheduler.Outcome, error) {
	log := e.logger.With("job_id", job.ID, "model_type", job.ModelType)
	modelType := job.ModelType

	// Step 1: training data
	progress(0.05)
	set, err := callWithContext(ctx, job.ID, "prepare_data", func(ctx context.Context) (*TrainingSet, error) {
		return e.data.PrepareTrainingData(ctx, modelType)
	})
	if err != nil {
		return nil, dataError(modelType, err)
	}
	if set == nil || set.SampleCount == 0 {
		return nil, &models.DataUnavailableError{ModelType: modelType}
	}
	log.Infow("Training data prepared", "samples", set.SampleCount, "data_hash", set.DataHash)
	progress(0.2)

	// Step 2: train
	handle, err := callWithContext(ctx, job.ID, "train", func(ctx context.Context) (*ModelHandle, error) {
		return e.trainer.Train(ctx, modelType, set)
	})
	if err != nil {
		if isTimeout(err) {
			return nil, err
		}
		return nil, &models.TrainingError{ModelType: modelType, Err: err}
	}
	progress(0.5)

	// Step 3: evaluate
	results, err := callWithContext(ctx, job.ID, "evaluate", func(ctx context.Context) (*models.EvaluationResults, error) {
		return e.evaluator.Evaluate(ctx, handle, modelType)
	})
	if err != nil {
		if isTimeout(err) {
			return nil, err
		}
		return nil, &models.EvaluationError{ModelType: modelType, Err: err}
	}
	if results == nil {
		return nil, &models.EvaluationError{ModelType: modelType, Err: errors.New("evaluator returned no results")}
	}
	log.Infow("Candidate evaluated", "metrics", results.Metrics, "quality_score", results.QualityScore)
	progress(0.7)

	// Step 4: challenger staging, best effort
	if e.cfg.ABTesting && e.experiments != nil {
		if err := e.experiments.RegisterChallenger(ctx, modelType, handle, results.Metrics); err != nil {
			log.Warnw("Failed to register challenger", "error", err)
		}
	}
	progress(0.75)

	// Step 5: decide against the current champion
	var championMetrics map[string]float64
	if champion, ok := e.registry.GetChampion(modelType); ok {
		championMetrics = champion.PerformanceMetrics
	}
	d := e.engine.Decide(decision.Input{
		ChampionMetrics:  championMetrics,
		CandidateMetrics: results.Metrics,
		QualityScore:     results.QualityScore,
		SampleSize:       results.SampleSize,
	})
	log.Infow("Deployment decision", "verdict", d.Verdict, "reason", d.Reason, "confidence", d.Confidence)
	progress(0.85)

	// Step 6: apply the verdict
	outcome := &scheduler.Outcome{
		EvaluationResults: results,
		Decision: &models.JobDecision{
			Verdict:    string(d.Verdict),
			Reason:     d.Reason,
			Confidence: d.Confidence,
		},
	}

	switch d.Verdict {
	case decision.VerdictDeploy:
		artifact, err := e.storeCandidate(ctx, job, handle, set, results)
		if err != nil {
			return nil, err
		}
		outcome.CandidateModelID = artifact.ModelID

		if !e.cfg.AutoDeploy {
			outcome.Status = models.JobStatusAwaitingApproval
			log.Infow("Candidate awaiting approval", "model_id", artifact.ModelID)
			return outcome, nil
		}
		if err := e.registry.Deploy(ctx, modelType, artifact.ModelID); err != nil {
			return nil, err
		}
		monitoring.ModelDeploymentsTotal.WithLabelValues(string(modelType), "auto").Inc()
		outcome.Status = models.JobStatusDeployed
		log.Infow("Candidate deployed", "model_id", artifact.ModelID, "version", artifact.Version)

		if e.cfg.KeepVersions > 0 {
			if removed, err := e.registry.Cleanup(ctx, modelType, e.cfg.KeepVersions); err != nil {
				log.Warnw("Post-deploy cleanup failed", "error", err)
			} else if removed > 0 {
				log.Infow("Old versions removed", "count", removed)
			}
		}

	case decision.VerdictContinueTest:
		// Kept as a pending artifact for later manual evaluation; the job itself is not promoted.
		if artifact, err := e.storeCandidate(ctx, job, handle, set, results); err != nil {
			log.Warnw("Failed to keep continue_test candidate", "error", err)
		} else {
			outcome.CandidateModelID = artifact.ModelID
		}
		outcome.Status = models.JobStatusRejected

	default:
		outcome.Status = models.JobStatusRejected
	}

	progress(1)
	return outcome, nil
}

func (e *TrainingExecutor) storeCandidate(
	ctx context.Context,
	job *models.RetrainingJob,
	handle *ModelHandle,
	set *TrainingSet,
	results *models.EvaluationResults,
) (*models.ModelArtifact, error) {
	meta := map[string]interface{}{
		"job_id":        job.ID,
		"trigger":       job.Reason,
		"quality_score": results.QualityScore,
		"samples":       set.SampleCount,
	}
	if handle.ID != "" {
		meta["handle_id"] = handle.ID
	}
	for k, v := range handle.Metadata {
		meta[k] = v
	}
	return e.registry.Store(ctx, job.ModelType, handle.Artifact, results.Metrics, set.DataHash, meta)
}

func dataError(modelType models.ModelType, err error) error {
	if isTimeout(err) {
		return err
	}
	var du *models.DataUnavailableError
	if errors.As(err, &du) {
		return err
	}
	return &models.DataUnavailableError{ModelType: modelType, Err: err}
}

func isTimeout(err error) bool {
	var te *models.TimeoutError
	return errors.As(err, &te)
}

// callWithContext runs fn and gives up when ctx ends, so a collaborator that ignores
// cancellation cannot hold the job past its deadline.
func callWithContext[T any](ctx context.Context, jobID, step string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			var zero T
			return zero, stepTimeout(ctx, jobID, step)
		}
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, stepTimeout(ctx, jobID, step)
	}
}

func stepTimeout(ctx context.Context, jobID, step string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.TimeoutError{JobID: jobID, Step: step}
	}
	return fmt.Errorf("%s cancelled: %w", step, ctx.Err())
}
