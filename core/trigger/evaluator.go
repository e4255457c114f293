package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
)

// DataCounter reports how much unseen training data exists
type DataCounter interface {
	NewDataCount(ctx context.Context, modelType models.ModelType) (int, error)
}

// PerformanceReader exposes the latest live performance
type PerformanceReader interface {
	CurrentPerformance(modelType models.ModelType) (float64, bool)
}

// BaselineSource exposes the champion's offline metrics
type BaselineSource interface {
	ChampionMetric(modelType models.ModelType, metric string) (float64, bool)
}

// Submitter is the slice of the scheduler the evaluator needs
type Submitter interface {
	HasActive(modelType models.ModelType) bool
	Submit(ctx context.Context, req models.RetrainingRequest) (*models.RetrainingJob, error)
}

// StatusStore persists the last trigger per model type
type StatusStore interface {
	SaveTriggerStatus(ctx context.Context, status *models.TriggerStatus) error
	LoadTriggerStatuses(ctx context.Context) ([]*models.TriggerStatus, error)
}

// Config holds trigger thresholds
type Config struct {
	PerformanceDegradationThreshold float64
	MinNewDataThreshold             int
	PrimaryMetric                   string
	// Baselines is used for types without a champion metric
	Baselines map[models.ModelType]float64
}

// Evaluator decides, per tick, which model types need retraining
type Evaluator struct {
	cfg       Config
	perf      PerformanceReader
	data      DataCounter
	baselines BaselineSource
	submitter Submitter
	store     StatusStore
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu     sync.RWMutex
	status map[models.ModelType]*models.TriggerStatus
}

// NewEvaluator creates a trigger evaluator. baselines and store may be nil.
func NewEvaluator(
	cfg Config,
	perf PerformanceReader,
	data DataCounter,
	baselines BaselineSource,
	submitter Submitter,
	store StatusStore,
	logger *zap.SugaredLogger,
) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		perf:      perf,
		data:      data,
		baselines: baselines,
		submitter: submitter,
		store:     store,
		logger:    logger.With("component", "trigger_evaluator"),
		now:       time.Now,
		status:    make(map[models.ModelType]*models.TriggerStatus),
	}
}

// SetClock overrides the time source
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Restore loads persisted trigger statuses
func (e *Evaluator) Restore(ctx context.Context) {
	if e.store == nil {
		return
	}
	statuses, err := e.store.LoadTriggerStatuses(ctx)
	if err != nil {
		e.logger.Warnw("Failed to restore trigger status", "error", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range statuses {
		e.status[s.ModelType] = s
	}
}

// Evaluate runs the degradation and new-data checks for every type.
// At most one request is emitted per type per tick; degradation wins over new data.
func (e *Evaluator) Evaluate(ctx context.Context, types []models.ModelType) {
	for _, t := range types {
		req, ok := e.check(ctx, t)
		if !ok {
			continue
		}
		if _, err := e.Emit(ctx, req); errors.Is(err, models.ErrSchedulerStopped) {
			return
		}
	}
}

// EvaluateInterval emits the fixed-interval request for every type
func (e *Evaluator) EvaluateInterval(ctx context.Context, types []models.ModelType) {
	for _, t := range types {
		_, err := e.Emit(ctx, models.RetrainingRequest{
			ModelType: t,
			Reason:    models.ReasonScheduledInterval,
			Priority:  models.PriorityNormal,
		})
		if errors.Is(err, models.ErrSchedulerStopped) {
			return
		}
	}
}

func (e *Evaluator) check(ctx context.Context, t models.ModelType) (models.RetrainingRequest, bool) {
	if current, ok := e.perf.CurrentPerformance(t); ok {
		if baseline, ok := e.baseline(t); ok && baseline-current > e.cfg.PerformanceDegradationThreshold {
			return models.RetrainingRequest{
				ModelType: t,
				Reason:    models.ReasonPerformanceDegradation,
				Priority:  models.PriorityEmergency,
				Detail:    fmt.Sprintf("baseline %.4f, current %.4f", baseline, current),
			}, true
		}
	}

	count, err := e.data.NewDataCount(ctx, t)
	if err != nil {
		e.logger.Warnw("Failed to read new data count", "model_type", t, "error", err)
		monitoring.TriggersTotal.WithLabelValues(string(t), string(models.ReasonNewDataAvailable), "error").Inc()
		return models.RetrainingRequest{}, false
	}
	if count >= e.cfg.MinNewDataThreshold {
		return models.RetrainingRequest{
			ModelType: t,
			Reason:    models.ReasonNewDataAvailable,
			Priority:  models.PriorityNormal,
			Detail:    fmt.Sprintf("%d new samples", count),
		}, true
	}
	return models.RetrainingRequest{}, false
}

func (e *Evaluator) baseline(t models.ModelType) (float64, bool) {
	if e.baselines != nil {
		if v, ok := e.baselines.ChampionMetric(t, e.cfg.PrimaryMetric); ok {
			return v, true
		}
	}
	v, ok := e.cfg.Baselines[t]
	return v, ok
}

// Emit submits a request unless a job for its type is already queued or running.
// Suppressed requests are recorded in the trigger status and return ErrDuplicateJob.
// A queued job is returned together with ErrConcurrencyLimitReached.
func (e *Evaluator) Emit(ctx context.Context, req models.RetrainingRequest) (*models.RetrainingJob, error) {
	status := &models.TriggerStatus{
		ModelType:  req.ModelType,
		LastReason: req.Reason,
		FiredAt:    e.now(),
	}

	var err error
	var job *models.RetrainingJob
	if e.submitter.HasActive(req.ModelType) {
		err = models.ErrDuplicateJob
	} else {
		job, err = e.submitter.Submit(ctx, req)
	}

	switch {
	case errors.Is(err, models.ErrDuplicateJob):
		status.Suppressed = true
		monitoring.TriggersTotal.WithLabelValues(string(req.ModelType), string(req.Reason), "suppressed").Inc()
		e.logger.Debugw("Trigger suppressed, job already active", "model_type", req.ModelType, "reason", req.Reason)
	case errors.Is(err, models.ErrSchedulerStopped):
		return nil, err
	case err != nil && !errors.Is(err, models.ErrConcurrencyLimitReached):
		monitoring.TriggersTotal.WithLabelValues(string(req.ModelType), string(req.Reason), "error").Inc()
		e.logger.Warnw("Failed to submit retraining request", "model_type", req.ModelType, "error", err)
		return nil, err
	default:
		status.JobID = job.ID
		monitoring.TriggersTotal.WithLabelValues(string(req.ModelType), string(req.Reason), "emitted").Inc()
		e.logger.Infow("Retraining triggered",
			"model_type", req.ModelType,
			"reason", req.Reason,
			"priority", job.Priority,
			"job_id", job.ID,
			"queued", errors.Is(err, models.ErrConcurrencyLimitReached))
	}

	e.mu.Lock()
	e.status[req.ModelType] = status
	e.mu.Unlock()

	if e.store != nil {
		if serr := e.store.SaveTriggerStatus(ctx, status); serr != nil {
			e.logger.Warnw("Failed to persist trigger status", "model_type", req.ModelType, "error", serr)
		}
	}
	if status.Suppressed {
		return nil, models.ErrDuplicateJob
	}
	return job, err
}

// Status returns the last trigger per model type
func (e *Evaluator) Status() map[models.ModelType]models.TriggerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[models.ModelType]models.TriggerStatus, len(e.status))
	for t, s := range e.status {
		out[t] = *s
	}
	return out
}

// StatusList returns the trigger statuses ordered by model type
func (e *Evaluator) StatusList() []models.TriggerStatus {
	status := e.Status()
	out := make([]models.TriggerStatus, 0, len(status))
	for _, s := range status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelType < out[j].ModelType })
	return out
}
