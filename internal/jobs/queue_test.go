package jobs

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

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// fakeIngester runs fn for every attempt and tracks per-document
// concurrency.
type fakeIngester struct {
	fn func(ctx context.Context, doc rag.Document, attempt int) (rag.Result, error)

	mu        sync.Mutex
	attempts  map[string]int
	active    map[string]int
	maxActive int
}

func newFakeIngester(fn func(ctx context.Context, doc rag.Document, attempt int) (rag.Result, error)) *fakeIngester {
	return &fakeIngester{fn: fn, attempts: map[string]int{}, active: map[string]int{}}
}

func (f *fakeIngester) Ingest(ctx context.Context, doc rag.Document, observers ...rag.StateObserver) (rag.Result, error) {
	f.mu.Lock()
	f.attempts[doc.ID]++
	attempt := f.attempts[doc.ID]
	f.active[doc.ID]++
	if f.active[doc.ID] > f.maxActive {
		f.maxActive = f.active[doc.ID]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[doc.ID]--
		f.mu.Unlock()
	}()

	for _, o := range observers {
		o(ctx, doc, rag.StateReceived, nil)
	}
	res, err := f.fn(ctx, doc, attempt)
	for _, o := range observers {
		if err != nil {
			o(ctx, doc, rag.StateFailed, err)
		} else {
			o(ctx, doc, rag.StateDone, nil)
		}
	}
	return res, err
}

func (f *fakeIngester) attemptsFor(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[docID]
}

func succeed(_ context.Context, doc rag.Document, _ int) (rag.Result, error) {
	return rag.Result{DocID: doc.ID, Chunks: 2, State: rag.StateDone}, nil
}

func transientErr() error {
	return &rag.StepError{
		Step: rag.StepEmbed,
		Err:  &embeddings.ProviderError{Provider: "test", Op: "embed", StatusCode: 503, Err: errors.New("unavailable")},
	}
}

func testConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      16,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JobTimeout:     5 * time.Second,
	}
}

func doc(id string) rag.Document {
	return rag.Document{Scope: testScope, ID: id, Title: "T", Content: "some content"}
}

func waitTerminal(t *testing.T, q *Queue, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Positive(t, cfg.InitialBackoff)
	assert.Greater(t, cfg.MaxBackoff, cfg.InitialBackoff)
	assert.Positive(t, cfg.JobTimeout)
}

func TestQueue_Success(t *testing.T) {
	pub := &recordingPublisher{}
	ing := newFakeIngester(succeed)
	q := New(ing, NewRegistry(100, time.Hour, pub, nil), testConfig(), nil)
	q.Start()
	defer q.Shutdown(context.Background())

	job, err := q.Submit(context.Background(), doc("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)

	done := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, 2, done.Chunks)
	assert.Equal(t, 1, done.Attempts)

	names := pub.names(job.ID)
	require.NotEmpty(t, names)
	assert.Equal(t, "queued", names[0])
	assert.Contains(t, names, "received")
	assert.Equal(t, "done", names[len(names)-1])
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	ing := newFakeIngester(func(ctx context.Context, d rag.Document, attempt int) (rag.Result, error) {
		if attempt < 3 {
			return rag.Result{}, transientErr()
		}
		return succeed(ctx, d, attempt)
	})
	q := New(ing, nil, testConfig(), nil)
	q.Start()
	defer q.Shutdown(context.Background())

	job, err := q.Submit(context.Background(), doc("doc-1"))
	require.NoError(t, err)

	done := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, 3, ing.attemptsFor("doc-1"))
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	ing := newFakeIngester(func(context.Context, rag.Document, int) (rag.Result, error) {
		return rag.Result{}, transientErr()
	})
	q := New(ing, nil, testConfig(), nil)
	q.Start()
	defer q.Shutdown(context.Background())

	job, err := q.Submit(context.Background(), doc("doc-1"))
	require.NoError(t, err)

	failed := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Contains(t, failed.Error, "unavailable")
}

func TestQueue_PermanentFailureNotRetried(t *testing.T) {
	ing := newFakeIngester(func(context.Context, rag.Document, int) (rag.Result, error) {
		return rag.Result{}, &rag.StepError{Step: rag.StepChunk, Err: errors.New("tokenizer exploded")}
	})
	q := New(ing, nil, testConfig(), nil)
	q.Start()
	defer q.Shutdown(context.Background())

	job, err := q.Submit(context.Background(), doc("doc-1"))
	require.NoError(t, err)

	failed := waitTerminal(t, q, job.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "chunk: tokenizer exploded", failed.Error)
}

func TestQueue_Full(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	q := New(newFakeIngester(succeed), nil, cfg, nil)
	// workers not started, so the single slot stays occupied

	_, err := q.Submit(context.Background(), doc("doc-1"))
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), doc("doc-2"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Registry().Len(), "rejected job is not tracked")
}

func TestQueue_SubmitValidates(t *testing.T) {
	q := New(newFakeIngester(succeed), nil, testConfig(), nil)

	_, err := q.Submit(context.Background(), rag.Document{Scope: testScope, Content: "x"})
	assert.ErrorIs(t, err, rag.ErrInvalidDocument)

	other := tenant.WithScope(context.Background(), tenant.Scope{TenantID: "globex", ProjectID: "docs"})
	_, err = q.Submit(other, doc("doc-1"))
	assert.ErrorIs(t, err, tenant.ErrScopeMismatch)

	assert.Equal(t, 0, q.Registry().Len())
}

func TestQueue_SerializesSameDocument(t *testing.T) {
	ing := newFakeIngester(func(ctx context.Context, d rag.Document, attempt int) (rag.Result, error) {
		time.Sleep(5 * time.Millisecond)
		return succeed(ctx, d, attempt)
	})
	cfg := testConfig()
	cfg.Workers = 4
	q := New(ing, nil, cfg, nil)
	q.Start()
	defer q.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 6; i++ {
		job, err := q.Submit(context.Background(), doc("same-doc"))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for i := 0; i < 4; i++ {
		job, err := q.Submit(context.Background(), doc(fmt.Sprintf("other-%d", i)))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		assert.Equal(t, StatusDone, waitTerminal(t, q, id).Status)
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()
	assert.Equal(t, 1, ing.maxActive)
	assert.Equal(t, 6, ing.attempts["same-doc"])
}

func TestQueue_ShutdownDrains(t *testing.T) {
	var processed int32
	ing := newFakeIngester(func(ctx context.Context, d rag.Document, attempt int) (rag.Result, error) {
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&processed, 1)
		return succeed(ctx, d, attempt)
	})
	q := New(ing, nil, testConfig(), nil)
	q.Start()

	for i := 0; i < 10; i++ {
		_, err := q.Submit(context.Background(), doc(fmt.Sprintf("doc-%d", i)))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.Equal(t, int32(10), atomic.LoadInt32(&processed))

	_, err := q.Submit(context.Background(), doc("late"))
	assert.ErrorIs(t, err, ErrQueueClosed)

	// second shutdown is a no-op
	assert.NoError(t, q.Shutdown(context.Background()))
}

func TestQueue_ShutdownDeadlineCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	ing := newFakeIngester(func(ctx context.Context, _ rag.Document, _ int) (rag.Result, error) {
		close(started)
		<-ctx.Done()
		return rag.Result{}, ctx.Err()
	})
	q := New(ing, nil, testConfig(), nil)
	q.Start()

	job, err := q.Submit(context.Background(), doc("slow"))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}
