package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"model-orchestrator/core/models"
)

// MemoryJobStore keeps job history in process memory when no database is configured
type MemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.RetrainingJob
	events map[string][]models.JobEvent
	nextID int64
	now    func() time.Time
}

// NewMemoryJobStore creates an empty in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]*models.RetrainingJob),
		events: make(map[string][]models.JobEvent),
		now:    time.Now,
	}
}

// CreateJob stores a job and its creation event
func (s *MemoryJobStore) CreateJob(_ context.Context, job *models.RetrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	s.appendEventLocked(job.ID, nil, job.Status, "job_created", nil)
	return nil
}

// UpdateJobStatus replaces the stored job and records the transition
func (s *MemoryJobStore) UpdateJobStatus(_ context.Context, job *models.RetrainingJob, fromStatus models.JobStatus, reason string, meta map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	s.appendEventLocked(job.ID, &fromStatus, job.Status, reason, meta)
	return nil
}

func (s *MemoryJobStore) appendEventLocked(jobID string, from *models.JobStatus, to models.JobStatus, reason string, meta map[string]interface{}) {
	s.nextID++
	s.events[jobID] = append(s.events[jobID], models.JobEvent{
		ID:         s.nextID,
		JobID:      jobID,
		At:         s.now(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		MetaJSON:   meta,
	})
}

// GetJob retrieves a job by ID
func (s *MemoryJobStore) GetJob(_ context.Context, id string) (*models.RetrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "job_id", Key: id}
	}
	return job.Clone(), nil
}

// ListJobs lists jobs newest first, optionally filtered by model type
func (s *MemoryJobStore) ListJobs(_ context.Context, modelType models.ModelType, limit int) ([]*models.RetrainingJob, error) {
	s.mu.RLock()
	out := make([]*models.RetrainingJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if modelType == "" || job.ModelType == modelType {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListUnfinishedJobs returns jobs still queued or running
func (s *MemoryJobStore) ListUnfinishedJobs(_ context.Context) ([]*models.RetrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RetrainingJob
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// GetJobEvents returns the transition events of a job, oldest first
func (s *MemoryJobStore) GetJobEvents(_ context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[jobID]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]models.JobEvent, len(events))
	copy(out, events)
	return out, nil
}

// MemoryFeedbackStore keeps feedback summaries in process memory
type MemoryFeedbackStore struct {
	mu        sync.RWMutex
	summaries map[models.ModelType][]*models.FeedbackSummary
}

// NewMemoryFeedbackStore creates an empty in-memory feedback store
func NewMemoryFeedbackStore() *MemoryFeedbackStore {
	return &MemoryFeedbackStore{summaries: make(map[models.ModelType][]*models.FeedbackSummary)}
}

// SaveFeedbackSummary appends a summary
func (s *MemoryFeedbackStore) SaveFeedbackSummary(_ context.Context, summary *models.FeedbackSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *summary
	s.summaries[summary.ModelType] = append(s.summaries[summary.ModelType], &c)
	return nil
}

// LatestFeedbackSummary returns the most recent summary for a model type
func (s *MemoryFeedbackStore) LatestFeedbackSummary(_ context.Context, modelType models.ModelType) (*models.FeedbackSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.summaries[modelType]
	if len(list) == 0 {
		return nil, &models.NotFoundError{ModelType: modelType, Kind: "feedback_summary", Key: "latest"}
	}
	c := *list[len(list)-1]
	return &c, nil
}
