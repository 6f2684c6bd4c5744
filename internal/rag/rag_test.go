package rag_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/cache"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/embeddings/embedtest"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const testDim = 64

// countingIndex counts calls into the wrapped index.
type countingIndex struct {
	vectorstore.Index
	searches atomic.Int64
	upserts  atomic.Int64
}

func (c *countingIndex) Search(ctx context.Context, scope tenant.Scope, vector []float32, limit int) ([]vectorstore.Hit, error) {
	c.searches.Add(1)
	return c.Index.Search(ctx, scope, vector, limit)
}

func (c *countingIndex) Upsert(ctx context.Context, scope tenant.Scope, entries []vectorstore.Entry) error {
	c.upserts.Add(1)
	return c.Index.Upsert(ctx, scope, entries)
}

type fixture struct {
	provider  *embedtest.HashProvider
	index     *countingIndex
	cache     *cache.MemoryCache
	ingestor  *rag.Ingestor
	retriever *rag.Retriever
}

func newFixture(t *testing.T, chunkSize, overlap int) *fixture {
	t.Helper()

	provider := embedtest.NewHashProvider(testDim)
	client, err := embeddings.NewClient(provider)
	require.NoError(t, err)

	chromemIdx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Dimension: testDim}, nil)
	require.NoError(t, err)
	idx := &countingIndex{Index: chromemIdx}

	ch, err := chunker.New(chunker.Config{Size: chunkSize, Overlap: overlap})
	require.NoError(t, err)

	mc := cache.NewMemoryCache(time.Hour, 1000)

	ingestor, err := rag.NewIngestor(ch, client, idx, rag.WithInvalidation(mc))
	require.NoError(t, err)
	retriever, err := rag.NewRetriever(client, idx, rag.WithCache(mc, time.Hour), rag.WithTopK(3))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = idx.Close()
		_ = mc.Close()
	})
	return &fixture{provider: provider, index: idx, cache: mc, ingestor: ingestor, retriever: retriever}
}

func scope(t *testing.T, tenantID, projectID string) tenant.Scope {
	t.Helper()
	s, err := tenant.New(tenantID, projectID)
	require.NoError(t, err)
	return s
}
