// Package tasks enqueues background jobs and reports their progress.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of background work launched by a user.
type Job struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	UserID     int64                  `json:"user_id"`
	Args       map[string]interface{} `json:"args,omitempty"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Queue hands jobs to workers and tracks their progress.
type Queue interface {
	// Enqueue submits job and returns its id. An empty job.ID is generated.
	Enqueue(ctx context.Context, job Job) (string, error)
	// Progress returns the job's completion percentage. Unknown jobs report 100.
	Progress(ctx context.Context, jobID string) (int, error)
	// SetProgress records the completion percentage of a running job.
	SetProgress(ctx context.Context, jobID string, percent int) error
	Close() error
}

func prepare(job *Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// MemoryQueue keeps jobs in process. Used when no Redis address is configured.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     []Job
	progress map[string]int
}

// NewMemoryQueue returns an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{progress: make(map[string]int)}
}

// Enqueue records job with zero progress.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	prepare(&job)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.progress[job.ID] = 0
	return job.ID, nil
}

// Progress returns the recorded percentage, or 100 for unknown jobs.
func (q *MemoryQueue) Progress(ctx context.Context, jobID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.progress[jobID]
	if !ok {
		return 100, nil
	}
	return p, nil
}

// SetProgress updates a known job; unknown ids are ignored.
func (q *MemoryQueue) SetProgress(ctx context.Context, jobID string, percent int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.progress[jobID]; ok {
		q.progress[jobID] = clampPercent(percent)
	}
	return nil
}

// Jobs returns a copy of every enqueued job in submission order.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

// Close is a no-op.
func (q *MemoryQueue) Close() error {
	return nil
}
