package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/cache"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Retrieval defaults.
const (
	DefaultTopK      = 3
	MaxQueryLength   = 8192
	FallbackResponse = "I don't have enough information in the provided documents to answer that question."
)

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithCache enables result caching with the given TTL. A ttl <= 0 uses the
// cache's default.
func WithCache(c cache.Cache, ttl time.Duration) RetrieverOption {
	return func(r *Retriever) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithTopK sets the limit used when Retrieve is called without one.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithReranker reorders search results before they are returned and
// cached. The index is asked for max(limit, candidates) hits so the reranker
// can promote results the similarity ranking placed below the limit.
func WithReranker(rr reranker.Reranker, candidates int) RetrieverOption {
	return func(r *Retriever) {
		r.reranker = rr
		r.candidates = candidates
	}
}

// WithRetrieveLogger sets the logger.
func WithRetrieveLogger(logger *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Retriever answers queries from the cache or the vector index.
type Retriever struct {
	embedder embeddings.Embedder
	index    vectorstore.Index
	cache    cache.Cache
	ttl      time.Duration
	topK     int
	logger   *zap.Logger

	reranker   reranker.Reranker
	candidates int
}

// NewRetriever creates a Retriever from its collaborators.
func NewRetriever(embedder embeddings.Embedder, index vectorstore.Index, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("rag: embedder and index are required")
	}
	r := &Retriever{
		embedder: embedder,
		index:    index,
		cache:    cache.Nop{},
		topK:     DefaultTopK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.Nop{}
	}
	return r, nil
}

// TopK returns the default result limit.
func (r *Retriever) TopK() int { return r.topK }

// Retrieve returns up to limit context items for query, best first.
// A limit <= 0 uses the configured top-k. An empty result is not an error.
//
// Cached results are served without embedding or searching. Only non-empty
// results are cached. Provider and index failures are returned; cache
// failures only cost a cache miss.
func (r *Retriever) Retrieve(ctx context.Context, scope tenant.Scope, query string, limit int) (items []ContextItem, err error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", scope.Namespace()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := scope.Validate(); err != nil {
		return nil, stepError(StepValidate, fmt.Errorf("%w: %v", ErrInvalidQuery, err))
	}
	if strings.TrimSpace(query) == "" {
		return nil, stepError(StepValidate, fmt.Errorf("%w: query is empty", ErrInvalidQuery))
	}
	if len(query) > MaxQueryLength {
		return nil, stepError(StepValidate, fmt.Errorf("%w: query exceeds %d bytes", ErrInvalidQuery, MaxQueryLength))
	}
	if err := tenant.CheckScope(ctx, scope); err != nil {
		return nil, stepError(StepValidate, err)
	}
	if limit <= 0 {
		limit = r.topK
	}
	span.SetAttributes(attribute.Int("limit", limit))

	key := cache.Key(scope, query)
	if cached, ok := r.fromCache(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		if len(cached) > limit {
			cached = cached[:limit]
		}
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	// Read before the search: a write that lands while this retrieval is in
	// flight advances the generation and the result below is not cached.
	gen, cacheable := r.cache.Generation(ctx, scope)

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, stepError(StepEmbed, err)
	}

	fetch := limit
	if r.reranker != nil && r.candidates > fetch {
		fetch = r.candidates
	}
	hits, err := r.index.Search(ctx, scope, vector, fetch)
	if err != nil {
		return nil, stepError(StepSearch, err)
	}

	items = make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, ContextItem{
			Title:   h.Payload.Title,
			Content: h.Payload.Content,
			Score:   h.Score,
		})
	}
	if r.reranker != nil && len(items) > 0 {
		if items, err = r.rerank(ctx, query, items, limit); err != nil {
			return nil, stepError(StepRerank, err)
		}
	}
	span.SetAttributes(attribute.Int("result_count", len(items)))

	if len(items) > 0 && cacheable {
		r.toCache(ctx, key, gen, items)
	}
	return items, nil
}

// rerank returns the best limit items by the reranker's blended score.
func (r *Retriever) rerank(ctx context.Context, query string, items []ContextItem, limit int) ([]ContextItem, error) {
	candidates := make([]reranker.Candidate, len(items))
	for i, it := range items {
		candidates[i] = reranker.Candidate{Text: it.Title + "\n" + it.Content, Score: it.Score}
	}
	ranked, err := r.reranker.Rerank(ctx, query, candidates, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ContextItem, len(ranked))
	for i, rk := range ranked {
		out[i] = items[rk.Index]
		out[i].Score = rk.Score
	}
	return out, nil
}

func (r *Retriever) fromCache(ctx context.Context, key string) ([]ContextItem, bool) {
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var items []ContextItem
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		r.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return items, true
}

func (r *Retriever) toCache(ctx context.Context, key string, gen uint64, items []ContextItem) {
	raw, err := json.Marshal(items)
	if err != nil {
		r.logger.Warn("encoding cache entry", zap.Error(err))
		return
	}
	if !r.cache.SetIfGeneration(ctx, key, gen, raw, r.ttl) {
		r.logger.Debug("result not cached", zap.String("key", key))
	}
}
