package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"model-orchestrator/config"
	"model-orchestrator/core/decision"
	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/registry"
	"model-orchestrator/core/repository"
	"model-orchestrator/core/scheduler"
	"model-orchestrator/core/trigger"
	"model-orchestrator/storage"
)

// JobStore is the durable job history
type JobStore interface {
	scheduler.JobStore
	GetJob(ctx context.Context, id string) (*models.RetrainingJob, error)
	ListJobs(ctx context.Context, modelType models.ModelType, limit int) ([]*models.RetrainingJob, error)
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

// FeedbackStore persists feedback summaries
type FeedbackStore interface {
	monitoring.SummarySink
	LatestFeedbackSummary(ctx context.Context, modelType models.ModelType) (*models.FeedbackSummary, error)
}

// Collaborators are the external training services
type Collaborators struct {
	Data        executor.DataProvider
	Trainer     executor.Trainer
	Evaluator   executor.Evaluator
	Experiments executor.ExperimentClient    // optional
	Performance monitoring.PerformanceSource // optional; samples can also be pushed
}

// Stores are the persistence backends. Only Blobs is required.
type Stores struct {
	Blobs       storage.BlobStore
	Registry    registry.Repository
	Jobs        JobStore
	Feedback    FeedbackStore
	Performance monitoring.PerformanceStore
	Triggers    trigger.StatusStore
}

var _ monitoring.ArtifactLister = (*Orchestrator)(nil)

// Orchestrator wires the registry, scheduler, trigger evaluator and monitors together
// and exposes the operations the API layer calls into.
type Orchestrator struct {
	cfg       *config.Config
	registry  *registry.Registry
	engine    *decision.Engine
	scheduler *scheduler.Scheduler
	evaluator *trigger.Evaluator
	perf      *monitoring.PerformanceMonitor
	feedback  *monitoring.FeedbackAggregator
	jobs      JobStore
	summaries FeedbackStore
	logger    *zap.SugaredLogger
}

// New creates a new orchestrator
func New(cfg *config.Config, collab Collaborators, stores Stores, logger *zap.SugaredLogger) (*Orchestrator, error) {
	if stores.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if collab.Data == nil || collab.Trainer == nil || collab.Evaluator == nil {
		return nil, errors.New("data provider, trainer and evaluator are required")
	}
	if stores.Jobs == nil {
		stores.Jobs = repository.NewMemoryJobStore()
	}
	if stores.Feedback == nil {
		stores.Feedback = repository.NewMemoryFeedbackStore()
	}

	reg := registry.NewRegistry(stores.Blobs, stores.Registry, logger, registry.WithStoragePrefix(cfg.Registry.StoragePrefix))
	engine := decision.NewEngine(decision.Config{
		PrimaryMetric:        cfg.Decision.PrimaryMetric,
		ImprovementThreshold: cfg.Decision.ImprovementThreshold,
		DegradationThreshold: cfg.Decision.DegradationThreshold,
		QualityFloor:         cfg.Decision.QualityFloor,
		MinSampleSize:        cfg.Decision.MinSampleSize,
	})

	runner := executor.NewTrainingExecutor(
		collab.Data,
		collab.Trainer,
		collab.Evaluator,
		collab.Experiments,
		reg,
		engine,
		executor.Config{
			AutoDeploy:   cfg.Orchestrator.AutoDeploy,
			ABTesting:    cfg.Orchestrator.ABTesting,
			KeepVersions: cfg.Registry.KeepVersions,
		},
		logger,
	)

	sched := scheduler.NewScheduler(runner, stores.Jobs, scheduler.Config{
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		JobTimeout:        cfg.Orchestrator.JobTimeout,
	}, logger)

	perf := monitoring.NewPerformanceMonitor(
		collab.Performance,
		stores.Performance,
		cfg.Monitor.HistoryWindow,
		cfg.Orchestrator.MonitorInterval,
		logger,
	)

	evaluator := trigger.NewEvaluator(trigger.Config{
		PerformanceDegradationThreshold: cfg.Trigger.PerformanceDegradationThreshold,
		MinNewDataThreshold:             cfg.Trigger.MinNewDataThreshold,
		PrimaryMetric:                   cfg.Decision.PrimaryMetric,
		Baselines:                       cfg.Trigger.Baselines,
	}, perf, collab.Data, reg, sched, stores.Triggers, logger)

	feedback := monitoring.NewFeedbackAggregator(
		stores.Feedback,
		cfg.Monitor.FeedbackFlushThreshold,
		cfg.Orchestrator.FeedbackInterval,
		logger,
	)

	return &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		engine:    engine,
		scheduler: sched,
		evaluator: evaluator,
		perf:      perf,
		feedback:  feedback,
		jobs:      stores.Jobs,
		summaries: stores.Feedback,
		logger:    logger.With("component", "orchestrator"),
	}, nil
}

// Restore reloads persisted state: registries, performance history, trigger status,
// and fails jobs a previous process left unfinished.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if err := o.registry.Load(ctx); err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	types := o.modelTypes()
	o.perf.Restore(ctx, types)
	o.evaluator.Restore(ctx)
	o.scheduler.RecoverInterrupted(ctx)

	o.logger.Infow("State restored", "model_types", len(types))
	return nil
}

// Run runs the control loop, the interval trigger, the monitors and the scheduler until ctx is done
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.tickLoop(gctx, o.cfg.Orchestrator.TickInterval, func(ctx context.Context) {
			o.evaluator.Evaluate(ctx, o.modelTypes())
		})
		return nil
	})
	g.Go(func() error {
		o.tickLoop(gctx, o.cfg.Orchestrator.RetrainInterval, func(ctx context.Context) {
			o.evaluator.EvaluateInterval(ctx, o.modelTypes())
		})
		return nil
	})
	g.Go(func() error {
		o.perf.Start(gctx, o.modelTypes)
		return nil
	})
	g.Go(func() error {
		o.feedback.Start(gctx)
		return nil
	})
	g.Go(func() error {
		o.scheduler.Start(gctx)
		return nil
	})

	o.logger.Infow("Orchestrator started",
		"tick_interval", o.cfg.Orchestrator.TickInterval,
		"max_concurrent_jobs", o.cfg.Orchestrator.MaxConcurrentJobs,
		"auto_deploy", o.cfg.Orchestrator.AutoDeploy)
	return g.Wait()
}

func (o *Orchestrator) tickLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Tick runs one trigger evaluation for every known model type
func (o *Orchestrator) Tick(ctx context.Context) {
	o.evaluator.Evaluate(ctx, o.modelTypes())
}

// Shutdown stops admitting jobs and waits for running ones to reach a terminal state
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("Draining scheduler")
	return o.scheduler.Stop(ctx)
}

// modelTypes is the union of configured types and types already in the registry
func (o *Orchestrator) modelTypes() []models.ModelType {
	seen := make(map[models.ModelType]struct{})
	var out []models.ModelType
	for _, t := range o.cfg.Orchestrator.ModelTypes {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range o.registry.ModelTypes() {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ModelTypes returns every model type the orchestrator evaluates
func (o *Orchestrator) ModelTypes() []models.ModelType {
	types := o.modelTypes()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// SubmitFeedback buffers one feedback record and returns the summary if the buffer was flushed
func (o *Orchestrator) SubmitFeedback(ctx context.Context, modelType models.ModelType, record models.FeedbackRecord) (*models.FeedbackSummary, error) {
	if err := validateModelType(modelType); err != nil {
		return nil, err
	}
	if math.IsNaN(record.Satisfaction) || record.Satisfaction < 0 || record.Satisfaction > 1 {
		return nil, &models.ValidationError{Field: "satisfaction", Message: "must be within [0, 1]"}
	}
	for k, v := range record.Engagement {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &models.ValidationError{Field: "engagement." + k, Message: "must be a finite number"}
		}
	}
	record.ModelType = modelType

	o.feedback.RecordFeedback(modelType, record)
	return o.feedback.FlushIfThresholdReached(ctx, modelType)
}

// SubmitPerformanceSample records a live performance value pushed by telemetry
func (o *Orchestrator) SubmitPerformanceSample(ctx context.Context, modelType models.ModelType, value float64) error {
	if err := validateModelType(modelType); err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &models.ValidationError{Field: "value", Message: "must be a finite number"}
	}
	o.perf.RecordSample(ctx, modelType, value)
	return nil
}

// GetPerformanceHistory returns the samples of the last windowDays days
func (o *Orchestrator) GetPerformanceHistory(modelType models.ModelType, windowDays int) []models.PerformanceHistoryEntry {
	return o.perf.History(modelType, windowDays)
}

// CurrentPerformance returns the latest live performance sample
func (o *Orchestrator) CurrentPerformance(modelType models.ModelType) (float64, bool) {
	return o.perf.CurrentPerformance(modelType)
}

// LatestFeedbackSummary returns the most recent flushed summary for a type
func (o *Orchestrator) LatestFeedbackSummary(ctx context.Context, modelType models.ModelType) (*models.FeedbackSummary, error) {
	if s, ok := o.feedback.LatestSummary(modelType); ok {
		return s, nil
	}
	return o.summaries.LatestFeedbackSummary(ctx, modelType)
}

// GetActiveJobs returns the running jobs
func (o *Orchestrator) GetActiveJobs() []*models.RetrainingJob {
	return o.scheduler.ActiveJobs()
}

// GetQueuedJobs returns the queued jobs in start order
func (o *Orchestrator) GetQueuedJobs() []*models.RetrainingJob {
	return o.scheduler.QueuedJobs()
}

// GetRetrainingTriggerStatus returns the last trigger per model type
func (o *Orchestrator) GetRetrainingTriggerStatus() map[models.ModelType]models.TriggerStatus {
	return o.evaluator.Status()
}

// TriggerStatusList returns the trigger statuses ordered by model type
func (o *Orchestrator) TriggerStatusList() []models.TriggerStatus {
	return o.evaluator.StatusList()
}

// TriggerRetraining submits a manual retraining request.
// A queued job is returned without error; its status tells the caller it is waiting.
func (o *Orchestrator) TriggerRetraining(ctx context.Context, modelType models.ModelType, reason models.TriggerReason, priority models.Priority, detail string) (*models.RetrainingJob, error) {
	if err := validateModelType(modelType); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = models.ReasonManual
	}
	switch priority {
	case "":
		priority = models.PriorityNormal
	case models.PriorityNormal, models.PriorityEmergency:
	default:
		return nil, &models.ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", priority)}
	}

	job, err := o.evaluator.Emit(ctx, models.RetrainingRequest{
		ModelType: modelType,
		Reason:    reason,
		Priority:  priority,
		Detail:    detail,
	})
	if errors.Is(err, models.ErrConcurrencyLimitReached) {
		return job, nil
	}
	return job, err
}

// GetModelArtifacts returns the version view of every artifact, newest first
func (o *Orchestrator) GetModelArtifacts(modelType models.ModelType) []models.ModelVersion {
	return o.registry.GetVersions(modelType)
}

// ListArtifacts returns full artifact records, newest first
func (o *Orchestrator) ListArtifacts(modelType models.ModelType) []*models.ModelArtifact {
	return o.registry.Artifacts(modelType)
}

// GetChampion returns the deployed artifact for a type
func (o *Orchestrator) GetChampion(modelType models.ModelType) (*models.ModelArtifact, bool) {
	return o.registry.GetChampion(modelType)
}

// DeployModel promotes an artifact without consulting the decision engine
func (o *Orchestrator) DeployModel(ctx context.Context, modelType models.ModelType, modelID string) error {
	if err := validateModelType(modelType); err != nil {
		return err
	}
	if err := o.registry.Deploy(ctx, modelType, modelID); err != nil {
		return err
	}
	monitoring.ModelDeploymentsTotal.WithLabelValues(string(modelType), "admin").Inc()
	o.logger.Infow("Model deployed by operator", "model_type", modelType, "model_id", modelID)
	return nil
}

// RollbackModel redeploys an earlier version
func (o *Orchestrator) RollbackModel(ctx context.Context, modelType models.ModelType, version string) error {
	if err := validateModelType(modelType); err != nil {
		return err
	}
	if err := o.registry.Rollback(ctx, modelType, version); err != nil {
		return err
	}
	monitoring.ModelDeploymentsTotal.WithLabelValues(string(modelType), "rollback").Inc()
	o.logger.Infow("Model rolled back", "model_type", modelType, "version", version)
	return nil
}

// CleanupModels deletes all but the keepVersions newest artifacts and the champion
func (o *Orchestrator) CleanupModels(ctx context.Context, modelType models.ModelType, keepVersions int) (int, error) {
	if err := validateModelType(modelType); err != nil {
		return 0, err
	}
	if keepVersions < 0 {
		return 0, &models.ValidationError{Field: "keep_versions", Message: "must not be negative"}
	}
	deleted, err := o.registry.Cleanup(ctx, modelType, keepVersions)
	if err != nil {
		return deleted, err
	}
	o.logger.Infow("Cleaned up model artifacts", "model_type", modelType, "deleted", deleted, "kept", keepVersions)
	return deleted, nil
}

// GetJob returns a job, preferring the live copy while it is queued or running
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*models.RetrainingJob, error) {
	for _, job := range o.scheduler.ActiveJobs() {
		if job.ID == id {
			return job, nil
		}
	}
	for _, job := range o.scheduler.QueuedJobs() {
		if job.ID == id {
			return job, nil
		}
	}
	return o.jobs.GetJob(ctx, id)
}

// GetJobHistory returns persisted jobs newest first. An empty modelType lists every type.
func (o *Orchestrator) GetJobHistory(ctx context.Context, modelType models.ModelType, limit int) ([]*models.RetrainingJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return o.jobs.ListJobs(ctx, modelType, limit)
}

// GetJobEvents returns the status transitions of a job in order
func (o *Orchestrator) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return o.jobs.GetJobEvents(ctx, jobID, limit)
}

func validateModelType(modelType models.ModelType) error {
	if modelType == "" {
		return &models.ValidationError{Field: "model_type", Message: "must not be empty"}
	}
	return nil
}
