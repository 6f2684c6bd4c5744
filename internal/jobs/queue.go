package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrQueueClosed is returned by Submit after Shutdown has begun.
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// Ingester is the work a job performs. *rag.Ingestor implements it.
type Ingester interface {
	Ingest(ctx context.Context, doc rag.Document, observers ...rag.StateObserver) (rag.Result, error)
}

// Config controls queue capacity, concurrency and retries.
type Config struct {
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	JobTimeout     time.Duration `koanf:"job_timeout"`
	MaxTrackedJobs int           `koanf:"max_tracked_jobs"`
	JobRetention   time.Duration `koanf:"job_retention"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.MaxTrackedJobs <= 0 {
		c.MaxTrackedJobs = 10000
	}
	if c.JobRetention <= 0 {
		c.JobRetention = time.Hour
	}
}

type task struct {
	id  string
	doc rag.Document
}

// Queue is a bounded ingestion queue drained by a fixed worker pool.
type Queue struct {
	cfg      Config
	ingester Ingester
	registry *Registry
	locks    *keyedMutex
	logger   *zap.Logger

	tasks chan task

	// baseCtx outlives requests; cancel aborts in-flight jobs when a
	// shutdown deadline passes.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New creates a queue. Workers start with Start.
func New(ingester Ingester, registry *Registry, cfg Config, logger *zap.Logger) *Queue {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry(cfg.MaxTrackedJobs, cfg.JobRetention, nil, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		ingester: ingester,
		registry: registry,
		locks:    newKeyedMutex(),
		logger:   logger,
		tasks:    make(chan task, cfg.QueueSize),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Registry returns the job registry.
func (q *Queue) Registry() *Registry { return q.registry }

// Start launches the worker pool. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("ingestion workers started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("queue_size", q.cfg.QueueSize))
}

// Submit enqueues doc without blocking and returns the queued job.
func (q *Queue) Submit(ctx context.Context, doc rag.Document) (Job, error) {
	if err := doc.Validate(); err != nil {
		return Job{}, err
	}
	if err := tenant.CheckScope(ctx, doc.Scope); err != nil {
		return Job{}, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Job{}, ErrQueueClosed
	}

	job := q.registry.Create(ctx, doc.Scope, doc.ID)
	select {
	case q.tasks <- task{id: job.ID, doc: doc}:
		QueueDepth.Set(float64(len(q.tasks)))
		return job, nil
	default:
		q.registry.Remove(job.ID)
		JobsTotal.WithLabelValues("rejected").Inc()
		return Job{}, fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, cap(q.tasks))
	}
}

// Get returns a snapshot of a job.
func (q *Queue) Get(id string) (Job, error) {
	return q.registry.Get(id)
}

// Shutdown stops accepting jobs and waits for queued and in-flight jobs to
// finish. When ctx expires first, in-flight jobs are canceled and
// ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for t := range q.tasks {
		QueueDepth.Set(float64(len(q.tasks)))
		q.process(t)
	}
	q.logger.Debug("ingestion worker stopped", zap.Int("worker", n))
}

func (q *Queue) process(t task) {
	// one writer per document at a time
	unlock := q.locks.Lock(t.doc.Scope.Namespace() + "/" + t.doc.ID)
	defer unlock()

	start := time.Now()
	ctx := q.baseCtx
	logger := q.logger.With(
		zap.String("job_id", t.id),
		zap.String("tenant_id", t.doc.Scope.TenantID),
		zap.String("project_id", t.doc.Scope.ProjectID),
		zap.String("doc_id", t.doc.ID),
	)

	observe := func(ctx context.Context, _ rag.Document, state rag.State, _ error) {
		q.registry.Stage(ctx, t.id, state)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = q.cfg.InitialBackoff
	expo.MaxInterval = q.cfg.MaxBackoff

	attempt := func() (rag.Result, error) {
		q.registry.Started(ctx, t.id)
		actx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()

		res, err := q.ingester.Ingest(actx, t.doc, observe)
		if err == nil {
			return res, nil
		}
		if !rag.IsRetryable(err) || ctx.Err() != nil {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			RetriesTotal.Inc()
			q.registry.Retrying(ctx, t.id, err)
			logger.Warn("ingestion attempt failed, retrying",
				zap.Duration("backoff", wait),
				zap.Error(err))
		}),
	)
	JobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		JobsTotal.WithLabelValues("failed").Inc()
		q.registry.Failed(ctx, t.id, err)
		logger.Error("ingestion job failed", zap.Error(err))
		return
	}
	JobsTotal.WithLabelValues("done").Inc()
	q.registry.Done(ctx, t.id, res)
	logger.Info("ingestion job done",
		zap.Int("chunks", res.Chunks),
		zap.Duration("duration", time.Since(start)))
}
