package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

const chromemBackend = "chromem"

// errNoEmbeddingFunc is returned if chromem is ever asked to embed text
// itself. Vectors are always supplied by the caller.
var errNoEmbeddingFunc = errors.New("chromem index does not embed text")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persisted collections.
	// Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted files.
	Compress bool

	// Dimension is the vector length every entry must have.
	Dimension int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex is an Index backed by chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies. Each namespace is a chromem collection; payload fields are
// stored as document metadata and the chunk content as document content.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemIndex creates a ChromemIndex. With an empty Path the index is
// purely in memory.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", config.Dimension))

	return &ChromemIndex{db: db, config: config, logger: logger}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Dimension returns the configured vector length.
func (s *ChromemIndex) Dimension() int { return s.config.Dimension }

// Ping always succeeds for the in-process database.
func (s *ChromemIndex) Ping(context.Context) error { return nil }

// Close is a no-op; persisted collections are written on every change.
func (s *ChromemIndex) Close() error { return nil }

// EnsureNamespace creates the namespace collection if it is missing.
func (s *ChromemIndex) EnsureNamespace(ctx context.Context, scope tenant.Scope) (err error) {
	_, end := begin(ctx, chromemBackend, "ensure_namespace", scope)
	defer end(&err)

	if err := scope.Validate(); err != nil {
		return newIndexError("ensure_namespace", scope, err)
	}

	name := scope.Namespace()
	if s.db.GetCollection(name, noEmbed) != nil {
		return nil
	}
	// GetOrCreateCollection holds the database lock, so concurrent callers
	// end up with the same collection.
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return newIndexError("ensure_namespace", scope, err)
	}
	NamespacesCreated.WithLabelValues(chromemBackend).Inc()
	s.logger.Info("namespace created", zap.String("namespace", name))
	return nil
}

func (s *ChromemIndex) collection(scope tenant.Scope) *chromem.Collection {
	return s.db.GetCollection(scope.Namespace(), noEmbed)
}

// Upsert writes entries, overwriting documents that share an ID.
func (s *ChromemIndex) Upsert(ctx context.Context, scope tenant.Scope, entries []Entry) (err error) {
	ctx, end := begin(ctx, chromemBackend, "upsert", scope, attribute.Int("entries", len(entries)))
	defer end(&err)

	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(s.config.Dimension, entries); err != nil {
		return newIndexError("upsert", scope, err)
	}

	col := s.collection(scope)
	if col == nil {
		return newIndexError("upsert", scope, errors.New("namespace does not exist"))
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		docs[i] = chromem.Document{
			ID:        e.ID,
			Metadata:  payloadToMetadata(e.Payload),
			Embedding: vec,
			Content:   e.Payload.Content,
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return newIndexError("upsert", scope, err)
	}
	EntriesUpserted.WithLabelValues(chromemBackend).Add(float64(len(entries)))
	return nil
}

// Search returns the nearest entries in the namespace.
func (s *ChromemIndex) Search(ctx context.Context, scope tenant.Scope, vector []float32, limit int) (hits []Hit, err error) {
	ctx, end := begin(ctx, chromemBackend, "search", scope, attribute.Int("limit", limit))
	defer end(&err)

	if err := checkDimension(s.config.Dimension, vector); err != nil {
		return nil, newIndexError("search", scope, err)
	}

	col := s.collection(scope)
	if col == nil || limit <= 0 {
		return []Hit{}, nil
	}

	results, err := queryCollection(ctx, col, vector, limit, nil)
	if err != nil {
		return nil, newIndexError("search", scope, err)
	}

	hits = make([]Hit, 0, len(results))
	for _, r := range results {
		payload, convErr := payloadFromMetadata(r.Metadata, r.Content)
		if convErr != nil {
			return nil, newIndexError("search", scope, convErr)
		}
		hits = append(hits, Hit{ID: r.ID, Payload: payload, Score: r.Similarity})
	}
	return hits, nil
}

// DeleteByDocID removes every document whose doc_id metadata matches.
func (s *ChromemIndex) DeleteByDocID(ctx context.Context, scope tenant.Scope, docID string) (err error) {
	ctx, end := begin(ctx, chromemBackend, "delete", scope, attribute.String("doc_id", docID))
	defer end(&err)

	if docID == "" {
		return newIndexError("delete", scope, fmt.Errorf("%w: doc_id is required", ErrInvalidEntry))
	}
	col := s.collection(scope)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{FieldDocID: docID}, nil); err != nil {
		return newIndexError("delete", scope, err)
	}
	return nil
}

// DeleteStale removes the chunks of docID numbered keep and above. chromem
// filters on exact metadata values only, so the document's chunks are listed
// and the stale ones deleted by ID.
func (s *ChromemIndex) DeleteStale(ctx context.Context, scope tenant.Scope, docID string, keep int) (err error) {
	ctx, end := begin(ctx, chromemBackend, "delete_stale", scope,
		attribute.String("doc_id", docID), attribute.Int("keep", keep))
	defer end(&err)

	if docID == "" || keep < 0 {
		return newIndexError("delete_stale", scope, fmt.Errorf("%w: doc_id and keep >= 0 are required", ErrInvalidEntry))
	}
	col := s.collection(scope)
	if col == nil {
		return nil
	}

	// Any vector lists the filtered documents; similarity is ignored.
	unit := make([]float32, s.config.Dimension)
	unit[0] = 1
	results, err := queryCollection(ctx, col, unit, col.Count(), map[string]string{FieldDocID: docID})
	if err != nil {
		return newIndexError("delete_stale", scope, err)
	}

	var stale []string
	for _, r := range results {
		idx, convErr := strconv.Atoi(r.Metadata[FieldChunkIndex])
		if convErr != nil || idx >= keep {
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, stale...); err != nil {
		return newIndexError("delete_stale", scope, err)
	}
	return nil
}

// queryCollection returns up to limit nearest documents matching where.
// chromem rejects nResults above the collection size, and the size read
// beforehand can be stale once a concurrent delete lands. A failed query is
// retried with the size read again for as long as the collection shrinks,
// so n decreases on every retry.
func queryCollection(ctx context.Context, col *chromem.Collection, vector []float32, limit int, where map[string]string) ([]chromem.Result, error) {
	n := min(limit, col.Count())
	for n > 0 {
		results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil {
			return results, nil
		}
		count := col.Count()
		if count >= n {
			return nil, err
		}
		n = count
	}
	return nil, nil
}

func payloadToMetadata(p Payload) map[string]string {
	return map[string]string{
		FieldDocID:      p.DocID,
		FieldTitle:      p.Title,
		FieldChunkIndex: strconv.Itoa(p.ChunkIndex),
	}
}

func payloadFromMetadata(md map[string]string, content string) (Payload, error) {
	docID, ok := md[FieldDocID]
	if !ok {
		return Payload{}, fmt.Errorf("%w: %s missing", ErrMalformedPayload, FieldDocID)
	}
	raw, ok := md[FieldChunkIndex]
	if !ok {
		return Payload{}, fmt.Errorf("%w: %s missing", ErrMalformedPayload, FieldChunkIndex)
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, FieldChunkIndex, err)
	}
	p := Payload{DocID: docID, Content: content, Title: md[FieldTitle], ChunkIndex: idx}
	return p, p.Validate()
}
