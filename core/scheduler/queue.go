package scheduler

import (
	"container/heap"
	"sync"

	"model-orchestrator/core/models"
)

// JobQueue is a priority queue for retraining jobs waiting for capacity
type JobQueue struct {
	jobs []*QueuedJob
	seq  uint64
	mu   sync.Mutex
}

// QueuedJob wraps a job with its ordering key
type QueuedJob struct {
	Job   *models.RetrainingJob
	Band  int    // 0 = emergency, 1 = normal
	Seq   uint64 // arrival order within the queue
	Index int    // For heap.Interface
}

// NewJobQueue creates a new job queue
func NewJobQueue() *JobQueue {
	jq := &JobQueue{
		jobs: make([]*QueuedJob, 0),
	}
	heap.Init(jq)
	return jq
}

// Enqueue adds a job to the queue
func (jq *JobQueue) Enqueue(job *models.RetrainingJob) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	jq.seq++
	heap.Push(jq, &QueuedJob{
		Job:  job,
		Band: band(job.Priority),
		Seq:  jq.seq,
	})
}

// PopJob removes and returns the next job to start
func (jq *JobQueue) PopJob() *models.RetrainingJob {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.Len() == 0 {
		return nil
	}

	item := heap.Pop(jq).(*QueuedJob)
	return item.Job
}

// Size returns the number of queued jobs
func (jq *JobQueue) Size() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return len(jq.jobs)
}

// Snapshot returns the queued jobs in dequeue order
func (jq *JobQueue) Snapshot() []*models.RetrainingJob {
	jq.mu.Lock()
	items := make([]*QueuedJob, len(jq.jobs))
	for i, item := range jq.jobs {
		c := *item
		items[i] = &c
	}
	jq.mu.Unlock()

	sorted := &JobQueue{jobs: items}
	out := make([]*models.RetrainingJob, 0, len(items))
	for sorted.Len() > 0 {
		out = append(out, heap.Pop(sorted).(*QueuedJob).Job)
	}
	return out
}

// HasModelType reports whether a job for the type is waiting
func (jq *JobQueue) HasModelType(modelType models.ModelType) bool {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	for _, item := range jq.jobs {
		if item.Job.ModelType == modelType {
			return true
		}
	}
	return false
}

// Drain empties the queue and returns what it held
func (jq *JobQueue) Drain() []*models.RetrainingJob {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	out := make([]*models.RetrainingJob, 0, len(jq.jobs))
	for jq.Len() > 0 {
		out = append(out, heap.Pop(jq).(*QueuedJob).Job)
	}
	return out
}

// Len returns the number of jobs in the queue
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Less orders emergency before normal, then by arrival
func (jq *JobQueue) Less(i, j int) bool {
	if jq.jobs[i].Band != jq.jobs[j].Band {
		return jq.jobs[i].Band < jq.jobs[j].Band
	}
	return jq.jobs[i].Seq < jq.jobs[j].Seq
}

// Swap swaps two jobs
func (jq *JobQueue) Swap(i, j int) {
	jq.jobs[i], jq.jobs[j] = jq.jobs[j], jq.jobs[i]
	jq.jobs[i].Index = i
	jq.jobs[j].Index = j
}

// Push implements heap.Interface
func (jq *JobQueue) Push(x interface{}) {
	n := len(jq.jobs)
	item := x.(*QueuedJob)
	item.Index = n
	jq.jobs = append(jq.jobs, item)
}

// Pop implements heap.Interface
func (jq *JobQueue) Pop() interface{} {
	old := jq.jobs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	jq.jobs = old[0 : n-1]
	return item
}

func band(p models.Priority) int {
	if p == models.PriorityEmergency {
		return 0
	}
	return 1
}
