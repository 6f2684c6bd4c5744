package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

const (
	qdrantBackend  = "qdrant"
	qdrantGRPCPort = 6334
	qdrantRESTPort = 6333
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	// URL, when set, overrides Host, Port and UseTLS. A REST port of 6333
	// is rewritten to the gRPC port.
	URL    string
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Dimension is the vector size of every collection this index creates.
	Dimension int

	MaxRetries     int
	RetryBackoff   time.Duration
	MaxMessageSize int

	// The breaker opens after CircuitBreakerThreshold consecutive transient
	// failures and stays open for CircuitResetTimeout.
	CircuitBreakerThreshold int
	CircuitResetTimeout     time.Duration
}

// ApplyDefaults fills zero fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.URL == "" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = qdrantGRPCPort
		}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 << 20
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitResetTimeout == 0 {
		c.CircuitResetTimeout = 30 * time.Second
	}
}

// Resolve folds URL into Host, Port and UseTLS.
func (c *QdrantConfig) Resolve() error {
	if c.URL == "" {
		return nil
	}
	var err error
	c.Host, c.Port, c.UseTLS, err = ParseQdrantURL(c.URL)
	return err
}

func (c QdrantConfig) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: qdrant port %d out of range", ErrInvalidConfig, c.Port)
	case c.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ParseQdrantURL splits a Qdrant address into gRPC host, port and TLS flag.
// Addresses without a scheme are treated as http.
func ParseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("%w: qdrant url: %v", ErrInvalidConfig, err)
	}

	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		useTLS = true
	default:
		return "", 0, false, fmt.Errorf("%w: qdrant url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if host = u.Hostname(); host == "" {
		return "", 0, false, fmt.Errorf("%w: qdrant url has no host", ErrInvalidConfig)
	}

	port = qdrantGRPCPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, false, fmt.Errorf("%w: qdrant url port %q", ErrInvalidConfig, p)
		}
		if port == qdrantRESTPort {
			port = qdrantGRPCPort
		}
	}
	return host, port, useTLS, nil
}

// QdrantIndex stores each namespace as a Qdrant collection of the same
// name, using cosine distance and a keyword payload index on doc_id.
type QdrantIndex struct {
	client  *qdrant.Client
	config  QdrantConfig
	logger  *zap.Logger
	breaker *breaker

	// known holds namespaces already confirmed to exist.
	known sync.Map
}

// NewQdrantIndex dials Qdrant and fails unless a health check succeeds.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant connection is plaintext", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client:  client,
		config:  cfg,
		logger:  logger,
		breaker: newBreaker(qdrantBackend, cfg.CircuitBreakerThreshold, cfg.CircuitResetTimeout),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := idx.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant index ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
		zap.Int("dimension", cfg.Dimension))
	return idx, nil
}

func (s *QdrantIndex) Dimension() int { return s.config.Dimension }

func (s *QdrantIndex) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping runs a Qdrant health check.
func (s *QdrantIndex) Ping(ctx context.Context) (err error) {
	ctx, end := begin(ctx, qdrantBackend, "ping", tenant.Scope{})
	defer end(&err)

	if _, err = s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// EnsureNamespace creates the namespace collection if it is missing.
// Concurrent callers racing to create the same collection all succeed.
func (s *QdrantIndex) EnsureNamespace(ctx context.Context, scope tenant.Scope) (err error) {
	const op = "ensure_namespace"
	ctx, end := begin(ctx, qdrantBackend, op, scope)
	defer end(&err)

	if err := scope.Validate(); err != nil {
		return newIndexError(op, scope, err)
	}
	name := scope.Namespace()
	if _, ok := s.known.Load(name); ok {
		return nil
	}

	var exists bool
	err = s.call(ctx, "collection_exists", func() (err error) {
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return newIndexError(op, scope, err)
	}
	if !exists {
		if err := s.createCollection(ctx, name); err != nil {
			return newIndexError(op, scope, err)
		}
		NamespacesCreated.WithLabelValues(qdrantBackend).Inc()
		s.logger.Info("namespace created", zap.String("namespace", name))
	}
	s.known.Store(name, struct{}{})
	return nil
}

func (s *QdrantIndex) createCollection(ctx context.Context, name string) error {
	err := s.call(ctx, "create_collection", func() error {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if alreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	// Search does not need the doc_id index; without it deletes scan.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      FieldDocID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil && !alreadyExists(err) {
		s.logger.Warn("doc_id payload index not created", zap.String("namespace", name), zap.Error(err))
	}
	return nil
}

// Upsert writes entries, overwriting points that share an ID. IDs must be
// UUIDs.
func (s *QdrantIndex) Upsert(ctx context.Context, scope tenant.Scope, entries []Entry) (err error) {
	const op = "upsert"
	ctx, end := begin(ctx, qdrantBackend, op, scope, attribute.Int("entries", len(entries)))
	defer end(&err)

	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(s.config.Dimension, entries); err != nil {
		return newIndexError(op, scope, err)
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if err := uuid.Validate(e.ID); err != nil {
			return newIndexError(op, scope, fmt.Errorf("%w: id %q is not a UUID", ErrInvalidEntry, e.ID))
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payloadToQdrant(e.Payload),
		})
	}

	err = s.call(ctx, op, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: scope.Namespace(),
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return newIndexError(op, scope, err)
	}
	EntriesUpserted.WithLabelValues(qdrantBackend).Add(float64(len(entries)))
	return nil
}

// Search returns up to limit nearest entries. A missing collection yields
// no hits.
func (s *QdrantIndex) Search(ctx context.Context, scope tenant.Scope, vector []float32, limit int) (hits []Hit, err error) {
	const op = "search"
	ctx, end := begin(ctx, qdrantBackend, op, scope, attribute.Int("limit", limit))
	defer end(&err)

	if err := checkDimension(s.config.Dimension, vector); err != nil {
		return nil, newIndexError(op, scope, err)
	}
	if limit <= 0 {
		return []Hit{}, nil
	}

	var points []*qdrant.ScoredPoint
	missing := false
	err = s.call(ctx, op, func() (err error) {
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: scope.Namespace(),
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if notFound(err) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, newIndexError(op, scope, err)
	}
	if missing {
		s.known.Delete(scope.Namespace())
		return []Hit{}, nil
	}

	hits = make([]Hit, 0, len(points))
	for _, p := range points {
		hit, err := hitFromScoredPoint(p)
		if err != nil {
			return nil, newIndexError(op, scope, err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocID removes every point whose doc_id matches. Deleting from a
// missing collection succeeds.
func (s *QdrantIndex) DeleteByDocID(ctx context.Context, scope tenant.Scope, docID string) (err error) {
	const op = "delete"
	ctx, end := begin(ctx, qdrantBackend, op, scope, attribute.String("doc_id", docID))
	defer end(&err)

	if docID == "" {
		return newIndexError(op, scope, fmt.Errorf("%w: doc_id is required", ErrInvalidEntry))
	}

	if err := s.deleteWhere(ctx, op, scope, docIDFilter(docID)); err != nil {
		return newIndexError(op, scope, err)
	}
	return nil
}

// DeleteStale removes the chunks of docID numbered keep and above.
func (s *QdrantIndex) DeleteStale(ctx context.Context, scope tenant.Scope, docID string, keep int) (err error) {
	const op = "delete_stale"
	ctx, end := begin(ctx, qdrantBackend, op, scope,
		attribute.String("doc_id", docID), attribute.Int("keep", keep))
	defer end(&err)

	if docID == "" || keep < 0 {
		return newIndexError(op, scope, fmt.Errorf("%w: doc_id and keep >= 0 are required", ErrInvalidEntry))
	}
	if err := s.deleteWhere(ctx, op, scope, staleChunkFilter(docID, keep)); err != nil {
		return newIndexError(op, scope, err)
	}
	return nil
}

// deleteWhere removes the points matching filter. A missing collection has
// nothing to delete.
func (s *QdrantIndex) deleteWhere(ctx context.Context, op string, scope tenant.Scope, filter *qdrant.Filter) error {
	return s.call(ctx, op, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: scope.Namespace(),
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		if notFound(err) {
			return nil
		}
		return err
	})
}

// call runs fn behind the circuit breaker, retrying transient failures
// with exponential backoff up to MaxRetries times.
func (s *QdrantIndex) call(ctx context.Context, op string, fn func() error) error {
	if !s.breaker.allow() {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.config.RetryBackoff
	expo.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		switch {
		case err == nil:
			s.breaker.succeed()
			return struct{}{}, nil
		case !IsTransientError(err):
			return struct{}{}, backoff.Permanent(err)
		case s.breaker.fail():
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.config.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("retrying qdrant call", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Qdrant reports some missing collections as plain errors rather than
// NotFound, hence the message fallback.
func notFound(err error) bool {
	if err == nil {
		return false
	}
	if hasCode(err, codes.NotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "doesn't exist")
}

func alreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return hasCode(err, codes.AlreadyExists) || strings.Contains(strings.ToLower(err.Error()), "already exists")
}
