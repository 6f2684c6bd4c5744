package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// ErrJobNotFound is returned for unknown or expired job IDs.
var ErrJobNotFound = errors.New("job not found")

// Registry tracks job status in memory and publishes every change.
//
// The registry is bounded: once it holds max jobs, the oldest finished job
// is dropped to make room. Finished jobs are also dropped after the
// retention period.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	max       int
	retention time.Duration
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry creates a registry holding up to max jobs.
func NewRegistry(max int, retention time.Duration, publisher Publisher, logger *zap.Logger) *Registry {
	if max <= 0 {
		max = 10000
	}
	if retention <= 0 {
		retention = time.Hour
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:      make(map[string]*Job),
		max:       max,
		retention: retention,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create registers a queued job and returns a snapshot of it.
func (r *Registry) Create(ctx context.Context, scope tenant.Scope, docID string) Job {
	now := r.now()
	j := &Job{
		ID:        uuid.New().String(),
		Scope:     scope,
		DocID:     docID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.pruneLocked(now)
	if len(r.jobs) >= r.max {
		r.evictOldestLocked()
	}
	r.jobs[j.ID] = j
	snapshot := *j
	r.mu.Unlock()

	r.publish(ctx, snapshot)
	return snapshot
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// Remove forgets a job, e.g. one that could not be enqueued.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Started marks a new attempt.
func (r *Registry) Started(ctx context.Context, id string) {
	r.update(ctx, id, func(j *Job) {
		j.Status = StatusRunning
		j.Stage = ""
		j.Error = ""
		j.Attempts++
	})
}

// Stage records an ingestion state reached by the running attempt.
// Terminal states are not recorded here; Retrying, Failed or Done follows
// them with the final status.
func (r *Registry) Stage(ctx context.Context, id string, state rag.State) {
	if state.Terminal() {
		return
	}
	r.update(ctx, id, func(j *Job) { j.Stage = state })
}

// Retrying marks an attempt that failed but will be repeated.
func (r *Registry) Retrying(ctx context.Context, id string, err error) {
	r.update(ctx, id, func(j *Job) {
		j.Status = StatusRetrying
		j.Error = err.Error()
	})
}

// Done marks the job as successfully completed.
func (r *Registry) Done(ctx context.Context, id string, res rag.Result) {
	r.update(ctx, id, func(j *Job) {
		j.Status = StatusDone
		j.Stage = rag.StateDone
		j.Chunks = res.Chunks
		j.Error = ""
	})
}

// Failed marks the job as permanently failed.
func (r *Registry) Failed(ctx context.Context, id string, err error) {
	r.update(ctx, id, func(j *Job) {
		j.Status = StatusFailed
		j.Stage = rag.StateFailed
		j.Error = err.Error()
	})
}

func (r *Registry) update(ctx context.Context, id string, fn func(*Job)) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(j)
	j.UpdatedAt = r.now()
	snapshot := *j
	r.mu.Unlock()

	r.publish(ctx, snapshot)
}

func (r *Registry) publish(ctx context.Context, j Job) {
	if err := r.publisher.Publish(ctx, EventFor(j)); err != nil {
		r.logger.Warn("publishing job event failed",
			zap.String("job_id", j.ID),
			zap.String("status", string(j.Status)),
			zap.Error(err))
	}
}

// pruneLocked drops finished jobs older than the retention period.
// Caller must hold the lock.
func (r *Registry) pruneLocked(now time.Time) {
	for id, j := range r.jobs {
		if j.Status.Terminal() && now.Sub(j.UpdatedAt) > r.retention {
			delete(r.jobs, id)
		}
	}
}

// evictOldestLocked drops the oldest finished job, or the oldest job if
// none has finished. Caller must hold the lock.
func (r *Registry) evictOldestLocked() {
	if id := r.oldestLocked(true); id != "" {
		delete(r.jobs, id)
		return
	}
	if id := r.oldestLocked(false); id != "" {
		delete(r.jobs, id)
	}
}

func (r *Registry) oldestLocked(terminalOnly bool) string {
	var oldestID string
	var oldest time.Time
	for id, j := range r.jobs {
		if terminalOnly && !j.Status.Terminal() {
			continue
		}
		if oldestID == "" || j.UpdatedAt.Before(oldest) {
			oldestID, oldest = id, j.UpdatedAt
		}
	}
	return oldestID
}
