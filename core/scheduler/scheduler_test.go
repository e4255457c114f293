package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"model-orchestrator/core/models"
)

type runResult struct {
	outcome *Outcome
	err     error
}

// gatedRunner blocks every job until the test releases its model type
type gatedRunner struct {
	mu      sync.Mutex
	gates   map[models.ModelType]chan runResult
	started chan models.ModelType
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		gates:   make(map[models.ModelType]chan runResult),
		started: make(chan models.ModelType, 16),
	}
}

func (r *gatedRunner) gate(t models.ModelType) chan runResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[t]
	if !ok {
		g = make(chan runResult, 1)
		r.gates[t] = g
	}
	return g
}

func (r *gatedRunner) Run(ctx context.Context, job *models.RetrainingJob, progress func(float64)) (*Outcome, error) {
	r.started <- job.ModelType
	progress(0.5)
	select {
	case res := <-r.gate(job.ModelType):
		return res.outcome, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *gatedRunner) release(t models.ModelType, res runResult) {
	r.gate(t) <- res
}

func (r *gatedRunner) expectStart(t *testing.T) models.ModelType {
	t.Helper()
	select {
	case mt := <-r.started:
		return mt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a job to start")
		return ""
	}
}

type memJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.RetrainingJob
	events []string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.RetrainingJob)}
}

func (m *memJobStore) CreateJob(_ context.Context, job *models.RetrainingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	m.events = append(m.events, job.ID+":"+string(job.Status))
	return nil
}

func (m *memJobStore) UpdateJobStatus(_ context.Context, job *models.RetrainingJob, from models.JobStatus, _ string, _ map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	m.events = append(m.events, job.ID+":"+string(job.Status))
	return nil
}

func (m *memJobStore) ListUnfinishedJobs(_ context.Context) ([]*models.RetrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RetrainingJob
	for _, j := range m.jobs {
		if !j.Status.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (m *memJobStore) status(id string) models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (m *memJobStore) job(id string) *models.RetrainingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Clone()
}

func newTestScheduler(runner Runner, store JobStore, max int) *Scheduler {
	return NewScheduler(runner, store, Config{MaxConcurrentJobs: max, TickInterval: time.Hour}, zap.NewNop().Sugar())
}

func request(t models.ModelType, p models.Priority) models.RetrainingRequest {
	return models.RetrainingRequest{ModelType: t, Reason: models.ReasonNewDataAvailable, Priority: p}
}

func deployed() runResult {
	return runResult{outcome: &Outcome{
		Status:   models.JobStatusDeployed,
		Decision: &models.JobDecision{Verdict: "deploy", Confidence: 1},
	}}
}

func TestSchedulerQueuesBeyondCapacity(t *testing.T) {
	runner := newGatedRunner()
	store := newMemJobStore()
	s := newTestScheduler(runner, store, 1)
	ctx := context.Background()

	first, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, first.Status)
	assert.Equal(t, models.ModelTypeRecommendation, runner.expectStart(t))

	second, err := s.Submit(ctx, request(models.ModelTypePersonalization, models.PriorityNormal))
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)
	require.NotNil(t, second)
	assert.Equal(t, models.JobStatusQueued, second.Status)
	assert.Len(t, s.ActiveJobs(), 1)
	assert.Len(t, s.QueuedJobs(), 1)

	runner.release(models.ModelTypeRecommendation, deployed())
	assert.Equal(t, models.ModelTypePersonalization, runner.expectStart(t))

	assert.Eventually(t, func() bool {
		return store.status(first.ID) == models.JobStatusDeployed
	}, 2*time.Second, 10*time.Millisecond)
	finished := store.job(first.ID)
	assert.Equal(t, 1.0, finished.Progress)
	require.NotNil(t, finished.EndTime)

	runner.release(models.ModelTypePersonalization, deployed())
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, models.JobStatusDeployed, store.status(second.ID))
}

func TestSchedulerEmergencyStartsFirst(t *testing.T) {
	runner := newGatedRunner()
	s := newTestScheduler(runner, nil, 1)
	ctx := context.Background()

	_, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)

	_, err = s.Submit(ctx, request(models.ModelTypePersonalization, models.PriorityNormal))
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)
	_, err = s.Submit(ctx, request(models.ModelTypeSearchRanking, models.PriorityEmergency))
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)

	queued := s.QueuedJobs()
	require.Len(t, queued, 2)
	assert.Equal(t, models.ModelTypeSearchRanking, queued[0].ModelType)

	runner.release(models.ModelTypeRecommendation, deployed())
	assert.Equal(t, models.ModelTypeSearchRanking, runner.expectStart(t))

	runner.release(models.ModelTypeSearchRanking, deployed())
	assert.Equal(t, models.ModelTypePersonalization, runner.expectStart(t))

	runner.release(models.ModelTypePersonalization, deployed())
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerFailureRecordsErrorAndPromotesNext(t *testing.T) {
	runner := newGatedRunner()
	store := newMemJobStore()
	s := newTestScheduler(runner, store, 1)
	ctx := context.Background()

	failing, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)
	_, err = s.Submit(ctx, request(models.ModelTypePersonalization, models.PriorityNormal))
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)

	runner.release(models.ModelTypeRecommendation, runResult{
		err: &models.TrainingError{ModelType: models.ModelTypeRecommendation, Err: errors.New("gpu lost")},
	})
	assert.Equal(t, models.ModelTypePersonalization, runner.expectStart(t))

	assert.Eventually(t, func() bool {
		return store.status(failing.ID) == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, store.job(failing.ID).Error, "gpu lost")

	runner.release(models.ModelTypePersonalization, deployed())
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRejectsDuplicateModelType(t *testing.T) {
	runner := newGatedRunner()
	s := newTestScheduler(runner, nil, 2)
	ctx := context.Background()

	_, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)
	assert.True(t, s.HasActive(models.ModelTypeRecommendation))

	_, err = s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityEmergency))
	assert.ErrorIs(t, err, models.ErrDuplicateJob)

	runner.release(models.ModelTypeRecommendation, deployed())
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.HasActive(models.ModelTypeRecommendation))
}

func TestSchedulerStopDrains(t *testing.T) {
	runner := newGatedRunner()
	store := newMemJobStore()
	s := newTestScheduler(runner, store, 1)
	ctx := context.Background()

	running, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)
	queued, err := s.Submit(ctx, request(models.ModelTypePersonalization, models.PriorityNormal))
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := s.Submit(ctx, request(models.ModelTypeSearchRanking, models.PriorityNormal))
		return errors.Is(err, models.ErrSchedulerStopped)
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	runner.release(models.ModelTypeRecommendation, deployed())
	require.NoError(t, <-stopped)

	assert.Equal(t, models.JobStatusDeployed, store.status(running.ID))
	assert.Equal(t, models.JobStatusFailed, store.status(queued.ID))
	assert.Equal(t, 0, s.ActiveCount())
}

func TestSchedulerStopHonoursContext(t *testing.T) {
	runner := newGatedRunner()
	s := newTestScheduler(runner, nil, 1)

	_, err := s.Submit(context.Background(), request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	runner.release(models.ModelTypeRecommendation, deployed())
	require.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerJobTimeout(t *testing.T) {
	runner := newGatedRunner()
	store := newMemJobStore()
	s := NewScheduler(runner, store, Config{
		MaxConcurrentJobs: 1,
		JobTimeout:        30 * time.Millisecond,
		TickInterval:      time.Hour,
	}, zap.NewNop().Sugar())

	job, err := s.Submit(context.Background(), request(models.ModelTypeRecommendation, models.PriorityNormal))
	require.NoError(t, err)
	runner.expectStart(t)

	require.NoError(t, s.Stop(context.Background()))
	final := store.job(job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.Error, "timed out")
}

type countingRunner struct {
	current int32
	peak    int32
}

func (r *countingRunner) Run(_ context.Context, _ *models.RetrainingJob, _ func(float64)) (*Outcome, error) {
	n := atomic.AddInt32(&r.current, 1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&r.current, -1)
	return &Outcome{Status: models.JobStatusRejected}, nil
}

func TestSchedulerNeverExceedsConcurrencyCap(t *testing.T) {
	runner := &countingRunner{}
	store := newMemJobStore()
	s := newTestScheduler(runner, store, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Submit(ctx, request(models.ModelType(fmt.Sprintf("type_%d", i)), models.PriorityNormal))
			if err != nil {
				assert.ErrorIs(t, err, models.ErrConcurrencyLimitReached)
			}
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return s.ActiveCount() == 0 && len(s.QueuedJobs()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2))
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.jobs, 12)
	for _, j := range store.jobs {
		assert.Equal(t, models.JobStatusRejected, j.Status)
	}
}

func TestSchedulerRecoverInterrupted(t *testing.T) {
	store := newMemJobStore()
	stale := models.NewRetrainingJob(request(models.ModelTypeSearchRanking, models.PriorityNormal), time.Now())
	stale.Status = models.JobStatusRunning
	require.NoError(t, store.CreateJob(context.Background(), stale))

	s := newTestScheduler(newGatedRunner(), store, 1)
	s.RecoverInterrupted(context.Background())

	final := store.job(stale.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
}

func TestJobQueueOrdering(t *testing.T) {
	q := NewJobQueue()
	mk := func(id string, p models.Priority) *models.RetrainingJob {
		return &models.RetrainingJob{ID: id, ModelType: models.ModelType(id), Priority: p}
	}
	q.Enqueue(mk("n1", models.PriorityNormal))
	q.Enqueue(mk("e1", models.PriorityEmergency))
	q.Enqueue(mk("n2", models.PriorityNormal))
	q.Enqueue(mk("e2", models.PriorityEmergency))

	assert.True(t, q.HasModelType("n2"))
	var snapshot []string
	for _, j := range q.Snapshot() {
		snapshot = append(snapshot, j.ID)
	}

	var order []string
	for j := q.PopJob(); j != nil; j = q.PopJob() {
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "n1", "n2"}, order)
	assert.Equal(t, order, snapshot)
	assert.Equal(t, 0, q.Size())
}

// slowCreateStore holds CreateJob until the test releases it
type slowCreateStore struct {
	*memJobStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowCreateStore) CreateJob(ctx context.Context, job *models.RetrainingJob) error {
	s.entered <- struct{}{}
	<-s.release
	return s.memJobStore.CreateJob(ctx, job)
}

func TestSchedulerSubmitDoesNotHoldLockDuringCreate(t *testing.T) {
	runner := newGatedRunner()
	store := &slowCreateStore{
		memJobStore: newMemJobStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	s := newTestScheduler(runner, store, 2)
	ctx := context.Background()

	type submitted struct {
		job *models.RetrainingJob
		err error
	}
	done := make(chan submitted, 1)
	go func() {
		job, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityNormal))
		done <- submitted{job, err}
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateJob was never called")
	}

	reads := make(chan int, 1)
	go func() { reads <- len(s.ActiveJobs()) + s.ActiveCount() }()
	select {
	case n := <-reads:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("scheduler lock held while the job was being persisted")
	}

	// the model type stays reserved while its job is written
	assert.True(t, s.HasActive(models.ModelTypeRecommendation))
	_, err := s.Submit(ctx, request(models.ModelTypeRecommendation, models.PriorityEmergency))
	assert.ErrorIs(t, err, models.ErrDuplicateJob)

	close(store.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, models.ModelTypeRecommendation, runner.expectStart(t))

	runner.release(models.ModelTypeRecommendation, deployed())
	require.NoError(t, s.Stop(ctx))

	store.mu.Lock()
	events := append([]string(nil), store.events...)
	store.mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, res.job.ID+":"+string(models.JobStatusQueued), events[0])
	assert.Equal(t, models.JobStatusDeployed, store.status(res.job.ID))
}
