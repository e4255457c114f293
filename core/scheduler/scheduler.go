package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/models"
	"model-orchestrator/core/monitoring"
)

// Runner executes the running phase of a retraining job
type Runner interface {
	// Run drives the job to a verdict. The job passed in is a copy; progress reports go through the callback.
	Run(ctx context.Context, job *models.RetrainingJob, progress func(float64)) (*Outcome, error)
}

// Outcome is the terminal result a Runner produced
type Outcome struct {
	Status            models.JobStatus
	EvaluationResults *models.EvaluationResults
	Decision          *models.JobDecision
	CandidateModelID  string
}

// JobStore persists job history and transition events
type JobStore interface {
	CreateJob(ctx context.Context, job *models.RetrainingJob) error
	UpdateJobStatus(ctx context.Context, job *models.RetrainingJob, from models.JobStatus, reason string, meta map[string]interface{}) error
	ListUnfinishedJobs(ctx context.Context) ([]*models.RetrainingJob, error)
}

// Scheduler admits retraining requests, bounds concurrency and drives each job to a terminal state
type Scheduler struct {
	runner        Runner
	store         JobStore
	maxConcurrent int
	jobTimeout    time.Duration
	tickInterval  time.Duration
	logger        *zap.SugaredLogger
	now           func() time.Time

	mu        sync.Mutex
	active    map[string]*models.RetrainingJob
	queue     *JobQueue
	admitting map[models.ModelType]struct{} // reserved while the new job is persisted
	stopped  bool
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// Config holds scheduler limits
type Config struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration // zero disables the per-job timeout
	TickInterval      time.Duration
}

// NewScheduler creates a new scheduler. store may be nil.
func NewScheduler(runner Runner, store JobStore, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	return &Scheduler{
		runner:        runner,
		store:         store,
		maxConcurrent: cfg.MaxConcurrentJobs,
		jobTimeout:    cfg.JobTimeout,
		tickInterval:  cfg.TickInterval,
		logger:        logger.With("component", "scheduler"),
		now:           time.Now,
		active:        make(map[string]*models.RetrainingJob),
		admitting:     make(map[models.ModelType]struct{}),
		queue:         NewJobQueue(),
		stopChan:      make(chan struct{}),
	}
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the housekeeping loop until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.processQueue()
		}
	}
}

// RecoverInterrupted marks jobs left queued or running by a previous process as failed
func (s *Scheduler) RecoverInterrupted(ctx context.Context) {
	if s.store == nil {
		return
	}
	jobs, err := s.store.ListUnfinishedJobs(ctx)
	if err != nil {
		s.logger.Warnw("Failed to load unfinished jobs", "error", err)
		return
	}
	for _, job := range jobs {
		from := job.Status
		end := s.now()
		job.Status = models.JobStatusFailed
		job.EndTime = &end
		job.Error = "interrupted by orchestrator restart"
		if err := s.store.UpdateJobStatus(ctx, job, from, "interrupted", nil); err != nil {
			s.logger.Warnw("Failed to mark interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		s.logger.Infow("Marked interrupted job as failed", "job_id", job.ID, "previous_status", from)
	}
}

// Submit admits a request. It starts the job when capacity allows, otherwise queues it and
// returns the job together with ErrConcurrencyLimitReached.
func (s *Scheduler) Submit(ctx context.Context, req models.RetrainingRequest) (*models.RetrainingJob, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, models.ErrSchedulerStopped
	}
	if s.hasModelTypeLocked(req.ModelType) {
		s.mu.Unlock()
		return nil, models.ErrDuplicateJob
	}

	s.admitting[req.ModelType] = struct{}{}
	job := models.NewRetrainingJob(req, s.now())
	s.mu.Unlock()

	// The job is not visible to anyone else yet, so the store write happens unlocked.
	s.persistCreate(ctx, job)

	s.mu.Lock()
	delete(s.admitting, req.ModelType)
	if s.stopped {
		s.mu.Unlock()
		end := s.now()
		job.Status = models.JobStatusFailed
		job.EndTime = &end
		job.Error = models.ErrSchedulerStopped.Error()
		s.persistTransition(ctx, job, models.JobStatusQueued, "scheduler_stopped", nil)
		return nil, models.ErrSchedulerStopped
	}
	monitoring.JobsSubmittedTotal.WithLabelValues(string(job.ModelType), string(job.Priority)).Inc()

	if len(s.active) >= s.maxConcurrent {
		s.queue.Enqueue(job)
		snapshot := job.Clone()
		s.updateGaugesLocked()
		s.mu.Unlock()

		s.logger.Infow("Job queued",
			"job_id", job.ID,
			"model_type", job.ModelType,
			"priority", job.Priority,
			"queue_length", s.queue.Size())
		return snapshot, models.ErrConcurrencyLimitReached
	}

	s.startLocked(job)
	snapshot := job.Clone()
	s.mu.Unlock()

	go s.runJob(job)
	return snapshot, nil
}

// HasActive reports whether a job for the type is queued or running
func (s *Scheduler) HasActive(modelType models.ModelType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasModelTypeLocked(modelType)
}

func (s *Scheduler) hasModelTypeLocked(modelType models.ModelType) bool {
	if _, ok := s.admitting[modelType]; ok {
		return true
	}
	for _, job := range s.active {
		if job.ModelType == modelType {
			return true
		}
	}
	return s.queue.HasModelType(modelType)
}

// ActiveJobs returns copies of the running jobs, oldest start first
func (s *Scheduler) ActiveJobs() []*models.RetrainingJob {
	s.mu.Lock()
	out := make([]*models.RetrainingJob, 0, len(s.active))
	for _, job := range s.active {
		out = append(out, job.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(*out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(*out[j].StartTime)
	})
	return out
}

// QueuedJobs returns copies of the waiting jobs in start order
func (s *Scheduler) QueuedJobs() []*models.RetrainingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queue.Snapshot()
	out := make([]*models.RetrainingJob, len(queued))
	for i, job := range queued {
		out[i] = job.Clone()
	}
	return out
}

// ActiveCount returns the number of running jobs
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stop stops admitting new jobs, fails the queued ones and waits for running jobs to finish.
// It returns ctx.Err() if ctx ends before the running jobs do.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	discarded := s.queue.Drain()
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })

	for _, job := range discarded {
		end := s.now()
		job.Status = models.JobStatusFailed
		job.EndTime = &end
		job.Error = models.ErrSchedulerStopped.Error()
		s.persistTransition(ctx, job, models.JobStatusQueued, "scheduler_stopped", nil)
		monitoring.JobsFinishedTotal.WithLabelValues(string(job.ModelType), string(job.Status)).Inc()
		s.logger.Infow("Discarded queued job at shutdown", "job_id", job.ID, "model_type", job.ModelType)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All running jobs finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processQueue starts queued jobs while capacity allows
func (s *Scheduler) processQueue() {
	s.mu.Lock()
	next := s.promoteLocked()
	s.updateGaugesLocked()
	s.mu.Unlock()

	for _, job := range next {
		go s.runJob(job)
	}
}

// startLocked moves a job into the active set. Caller holds s.mu.
func (s *Scheduler) startLocked(job *models.RetrainingJob) {
	start := s.now()
	job.Status = models.JobStatusRunning
	job.StartTime = &start
	job.Progress = 0
	s.active[job.ID] = job
	s.wg.Add(1)
	s.updateGaugesLocked()
}

// promoteLocked starts queued jobs until the concurrency cap is reached. Caller holds s.mu.
func (s *Scheduler) promoteLocked() []*models.RetrainingJob {
	var started []*models.RetrainingJob
	if s.stopped {
		return started
	}
	for len(s.active) < s.maxConcurrent {
		job := s.queue.PopJob()
		if job == nil {
			break
		}
		s.startLocked(job)
		started = append(started, job)
	}
	return started
}

func (s *Scheduler) updateGaugesLocked() {
	monitoring.ActiveJobs.Set(float64(len(s.active)))
	monitoring.QueuedJobs.Set(float64(s.queue.Size()))
}

// runJob executes one job in its own goroutine.
// Jobs are not cancelled by shutdown; only the per-job timeout bounds them.
func (s *Scheduler) runJob(job *models.RetrainingJob) {
	defer s.wg.Done()

	ctx := context.Background()
	s.persistTransition(ctx, s.snapshot(job), models.JobStatusQueued, "started", nil)
	s.logger.Infow("Job started", "job_id", job.ID, "model_type", job.ModelType, "reason", job.Reason)

	runCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	outcome, err := s.safeRun(runCtx, job)
	var te *models.TimeoutError
	if errors.As(err, &te) {
		if te.Timeout == 0 {
			te.Timeout = s.jobTimeout
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		err = &models.TimeoutError{JobID: job.ID, Step: "run", Timeout: s.jobTimeout}
	}
	s.finish(ctx, job, outcome, err)
}

// safeRun converts a runner panic into a job failure so it cannot take down the process
func (s *Scheduler) safeRun(ctx context.Context, job *models.RetrainingJob) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Runner panicked", "job_id", job.ID, "panic", r)
			outcome, err = nil, errors.New("runner panicked")
		}
	}()
	return s.runner.Run(ctx, s.snapshot(job), func(p float64) { s.setProgress(job, p) })
}

func (s *Scheduler) snapshot(job *models.RetrainingJob) *models.RetrainingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return job.Clone()
}

// setProgress records progress; it never moves backwards
func (s *Scheduler) setProgress(job *models.RetrainingJob, p float64) {
	if p > 1 {
		p = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Status == models.JobStatusRunning && p > job.Progress {
		job.Progress = p
	}
}

// finish applies the terminal state, removes the job from the active set and starts the next queued one
func (s *Scheduler) finish(ctx context.Context, job *models.RetrainingJob, outcome *Outcome, runErr error) {
	s.mu.Lock()
	end := s.now()
	job.EndTime = &end
	reason := "completed"
	var meta map[string]interface{}

	if runErr != nil || outcome == nil || !outcome.Status.IsTerminal() {
		if runErr == nil {
			runErr = errors.New("runner returned no terminal status")
		}
		job.Status = models.JobStatusFailed
		job.Error = runErr.Error()
		reason = "execution_failed"
		meta = map[string]interface{}{"error": runErr.Error()}
	} else {
		job.Status = outcome.Status
		job.Progress = 1
		job.EvaluationResults = outcome.EvaluationResults
		job.Decision = outcome.Decision
		job.CandidateModelID = outcome.CandidateModelID
		if outcome.Decision != nil {
			reason = "decision_" + outcome.Decision.Verdict
			meta = map[string]interface{}{
				"verdict":    outcome.Decision.Verdict,
				"confidence": outcome.Decision.Confidence,
			}
		}
	}
	delete(s.active, job.ID)
	final := job.Clone()
	next := s.promoteLocked()
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.persistTransition(ctx, final, models.JobStatusRunning, reason, meta)

	monitoring.JobsFinishedTotal.WithLabelValues(string(final.ModelType), string(final.Status)).Inc()
	monitoring.JobDurationSeconds.WithLabelValues(string(final.ModelType)).Observe(end.Sub(*final.StartTime).Seconds())

	if final.Status == models.JobStatusFailed {
		s.logger.Warnw("Job failed", "job_id", final.ID, "model_type", final.ModelType, "error", final.Error)
	} else {
		s.logger.Infow("Job finished", "job_id", final.ID, "model_type", final.ModelType, "status", final.Status)
	}

	for _, n := range next {
		go s.runJob(n)
	}
}

func (s *Scheduler) persistCreate(ctx context.Context, job *models.RetrainingJob) {
	if s.store == nil {
		return
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Warnw("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) persistTransition(ctx context.Context, job *models.RetrainingJob, from models.JobStatus, reason string, meta map[string]interface{}) {
	if s.store == nil {
		return
	}
	if err := s.store.UpdateJobStatus(ctx, job, from, reason, meta); err != nil {
		s.logger.Warnw("Failed to persist job status", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
