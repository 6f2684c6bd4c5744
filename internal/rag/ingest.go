package rag

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/cache"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/rag")

// Splitter breaks text into chunks. *chunker.Chunker implements it.
type Splitter interface {
	Split(text string) ([]string, error)
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithIngestLogger sets the logger.
func WithIngestLogger(logger *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithInvalidation purges the namespace's cached results after every
// successful ingestion or deletion. Without it cached results only expire.
func WithInvalidation(c cache.Cache) IngestorOption {
	return func(i *Ingestor) { i.cache = c }
}

// WithReplaceExisting controls whether chunks left over from a document's
// previous revision are deleted after its new chunks are written. It is on
// by default so that a shorter revision leaves no orphaned chunks behind.
func WithReplaceExisting(replace bool) IngestorOption {
	return func(i *Ingestor) { i.replace = replace }
}

// Ingestor runs the chunk, embed, index pipeline for single documents.
// It is safe for concurrent use; callers serialize work per document.
type Ingestor struct {
	splitter Splitter
	embedder embeddings.Embedder
	index    vectorstore.Index
	cache    cache.Cache
	replace  bool
	logger   *zap.Logger
}

// NewIngestor creates an Ingestor from its collaborators.
func NewIngestor(splitter Splitter, embedder embeddings.Embedder, index vectorstore.Index, opts ...IngestorOption) (*Ingestor, error) {
	if splitter == nil || embedder == nil || index == nil {
		return nil, errors.New("rag: splitter, embedder and index are required")
	}
	i := &Ingestor{
		splitter: splitter,
		embedder: embedder,
		index:    index,
		replace:  true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest chunks, embeds and indexes doc. Observers see every state
// transition, ending in StateDone or StateFailed.
//
// Content that produces no chunks completes with zero chunks and makes no
// embedding or upsert call.
func (i *Ingestor) Ingest(ctx context.Context, doc Document, observers ...StateObserver) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "Ingestor.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", doc.Scope.Namespace()),
		attribute.String("doc_id", doc.ID),
	)

	notify := func(state State, err error) {
		for _, o := range observers {
			o(ctx, doc, state, err)
		}
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			res.State = StateFailed
			notify(StateFailed, err)
			i.logger.Warn("ingestion failed",
				zap.String("namespace", doc.Scope.Namespace()),
				zap.String("doc_id", doc.ID),
				zap.Error(err))
		}
	}()

	res = Result{DocID: doc.ID, Namespace: doc.Scope.Namespace(), State: StateReceived}

	if err := doc.Validate(); err != nil {
		return res, stepError(StepValidate, err)
	}
	if err := tenant.CheckScope(ctx, doc.Scope); err != nil {
		return res, stepError(StepValidate, err)
	}
	notify(StateReceived, nil)

	chunks, err := i.splitter.Split(doc.Content)
	if err != nil {
		return res, stepError(StepChunk, err)
	}
	res.State = StateChunked
	notify(StateChunked, nil)
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		if i.replace {
			if err := i.index.DeleteByDocID(ctx, doc.Scope, doc.ID); err != nil {
				return res, stepError(StepDeleteStale, err)
			}
			i.invalidate(ctx, doc.Scope)
		}
		res.State = StateDone
		notify(StateDone, nil)
		return res, nil
	}

	vectors, err := i.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return res, stepError(StepEmbed, err)
	}
	if len(vectors) != len(chunks) {
		return res, stepError(StepEmbed, fmt.Errorf("%w: %d vectors for %d chunks",
			embeddings.ErrMalformedResponse, len(vectors), len(chunks)))
	}
	res.State = StateEmbedded
	notify(StateEmbedded, nil)

	entries := make([]vectorstore.Entry, len(chunks))
	ids := make([]string, len(chunks))
	for n, text := range chunks {
		ids[n] = ChunkID(doc.ID, n)
		entries[n] = vectorstore.Entry{
			ID:     ids[n],
			Vector: vectors[n],
			Payload: vectorstore.Payload{
				DocID:      doc.ID,
				Content:    text,
				Title:      doc.Title,
				ChunkIndex: n,
			},
		}
	}

	if err := i.index.EnsureNamespace(ctx, doc.Scope); err != nil {
		return res, stepError(StepEnsureNamespace, err)
	}
	if err := i.index.Upsert(ctx, doc.Scope, entries); err != nil {
		return res, stepError(StepUpsert, err)
	}
	// Chunk IDs are positional, so the upsert overwrote chunks 0..n-1 in
	// place and only a longer previous revision's tail remains.
	if i.replace {
		if err := i.index.DeleteStale(ctx, doc.Scope, doc.ID, len(chunks)); err != nil {
			return res, stepError(StepDeleteStale, err)
		}
	}
	res.State = StateIndexed
	res.Chunks = len(chunks)
	res.ChunkIDs = ids
	notify(StateIndexed, nil)

	i.invalidate(ctx, doc.Scope)

	res.State = StateDone
	notify(StateDone, nil)
	i.logger.Info("document ingested",
		zap.String("namespace", res.Namespace),
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", res.Chunks))
	return res, nil
}

// Delete removes every chunk of docID from the scope's namespace.
// Deleting an unknown document succeeds.
func (i *Ingestor) Delete(ctx context.Context, scope tenant.Scope, docID string) error {
	ctx, span := tracer.Start(ctx, "Ingestor.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", scope.Namespace()),
		attribute.String("doc_id", docID),
	)

	if err := scope.Validate(); err != nil {
		return stepError(StepValidate, fmt.Errorf("%w: %v", ErrInvalidDocument, err))
	}
	if err := validateDocID(docID); err != nil {
		return stepError(StepValidate, err)
	}
	if err := tenant.CheckScope(ctx, scope); err != nil {
		return stepError(StepValidate, err)
	}
	if err := i.index.DeleteByDocID(ctx, scope, docID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stepError(StepDelete, err)
	}
	i.invalidate(ctx, scope)
	i.logger.Info("document deleted",
		zap.String("namespace", scope.Namespace()),
		zap.String("doc_id", docID))
	return nil
}

// EnsureProject creates the scope's namespace ahead of the first ingestion.
func (i *Ingestor) EnsureProject(ctx context.Context, scope tenant.Scope) error {
	if err := scope.Validate(); err != nil {
		return stepError(StepValidate, fmt.Errorf("%w: %v", ErrInvalidDocument, err))
	}
	if err := tenant.CheckScope(ctx, scope); err != nil {
		return stepError(StepValidate, err)
	}
	if err := i.index.EnsureNamespace(ctx, scope); err != nil {
		return stepError(StepEnsureNamespace, err)
	}
	return nil
}

func (i *Ingestor) invalidate(ctx context.Context, scope tenant.Scope) {
	if i.cache != nil {
		i.cache.InvalidateNamespace(ctx, scope)
	}
}
