package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPayloadQdrantRoundTrip(t *testing.T) {
	in := Payload{DocID: "doc-1", Content: "hello", Title: "Greeting", ChunkIndex: 3}
	out, err := payloadFromQdrant(payloadToQdrant(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPayloadFromQdrant_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]*qdrant.Value
	}{
		{"empty", map[string]*qdrant.Value{}},
		{"missing content", map[string]*qdrant.Value{
			FieldDocID:      {Kind: &qdrant.Value_StringValue{StringValue: "d"}},
			FieldChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: 0}},
		}},
		{"doc_id wrong type", map[string]*qdrant.Value{
			FieldDocID:      {Kind: &qdrant.Value_IntegerValue{IntegerValue: 1}},
			FieldContent:    {Kind: &qdrant.Value_StringValue{StringValue: "c"}},
			FieldChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: 0}},
		}},
		{"missing chunk_index", map[string]*qdrant.Value{
			FieldDocID:   {Kind: &qdrant.Value_StringValue{StringValue: "d"}},
			FieldContent: {Kind: &qdrant.Value_StringValue{StringValue: "c"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := payloadFromQdrant(tt.values)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestPayloadFromQdrant_OptionalTitle(t *testing.T) {
	p, err := payloadFromQdrant(map[string]*qdrant.Value{
		FieldDocID:      {Kind: &qdrant.Value_StringValue{StringValue: "d"}},
		FieldContent:    {Kind: &qdrant.Value_StringValue{StringValue: "c"}},
		FieldChunkIndex: {Kind: &qdrant.Value_DoubleValue{DoubleValue: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "", p.Title)
	assert.Equal(t, 2, p.ChunkIndex)
}

func TestHitFromScoredPoint(t *testing.T) {
	id := "5c56c793-69f3-4fbf-87e6-c4bf54c28c26"
	hit, err := hitFromScoredPoint(&qdrant.ScoredPoint{
		Id:      qdrant.NewIDUUID(id),
		Score:   0.87,
		Payload: payloadToQdrant(Payload{DocID: "d", Content: "c", Title: "t", ChunkIndex: 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, id, hit.ID)
	assert.InDelta(t, 0.87, hit.Score, 1e-6)
	assert.Equal(t, "d", hit.Payload.DocID)
}

func TestDocIDFilter(t *testing.T) {
	f := docIDFilter("doc-9")
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, FieldDocID, field.Key)
	assert.Equal(t, "doc-9", field.Match.GetKeyword())
}

func TestStaleChunkFilter(t *testing.T) {
	f := staleChunkFilter("doc-9", 3)
	require.Len(t, f.Must, 2)
	assert.Equal(t, "doc-9", f.Must[0].GetField().Match.GetKeyword())

	field := f.Must[1].GetField()
	require.NotNil(t, field)
	assert.Equal(t, FieldChunkIndex, field.Key)
	require.NotNil(t, field.Range.Gte)
	assert.Equal(t, 3.0, *field.Range.Gte)
	assert.Nil(t, field.Range.Lt)
}

func testIndex(cfg QdrantConfig) *QdrantIndex {
	return &QdrantIndex{
		config:  cfg,
		logger:  zap.NewNop(),
		breaker: newBreaker(qdrantBackend, cfg.CircuitBreakerThreshold, cfg.CircuitResetTimeout),
	}
}

func TestQdrantIndex_CircuitBreaker(t *testing.T) {
	s := testIndex(QdrantConfig{
		MaxRetries:              1,
		RetryBackoff:            time.Millisecond,
		CircuitBreakerThreshold: 2,
		CircuitResetTimeout:     time.Hour,
	})

	calls := 0
	unavailable := func() error {
		calls++
		return status.Error(codes.Unavailable, "down")
	}

	err := s.call(t.Context(), "search", unavailable)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	// open circuit short-circuits without calling the backend
	err = s.call(t.Context(), "search", unavailable)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestQdrantIndex_RetryPermanentError(t *testing.T) {
	s := testIndex(QdrantConfig{MaxRetries: 3, RetryBackoff: time.Millisecond, CircuitBreakerThreshold: 5, CircuitResetTimeout: time.Hour})
	calls := 0
	err := s.call(t.Context(), "upsert", func() error {
		calls++
		return status.Error(codes.InvalidArgument, "bad vector")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestQdrantIndex_RetryRecovers(t *testing.T) {
	s := testIndex(QdrantConfig{MaxRetries: 3, RetryBackoff: time.Millisecond, CircuitBreakerThreshold: 5, CircuitResetTimeout: time.Hour})
	calls := 0
	err := s.call(t.Context(), "upsert", func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "blip")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker("test", 1, 10*time.Millisecond)
	assert.True(t, b.allow())
	assert.True(t, b.fail())
	assert.False(t, b.allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.allow(), "probe allowed after cooldown")
	b.succeed()
	assert.True(t, b.allow())
}

func TestQdrantIndex_CallHonorsContext(t *testing.T) {
	s := testIndex(QdrantConfig{MaxRetries: 5, RetryBackoff: time.Hour, CircuitBreakerThreshold: 10, CircuitResetTimeout: time.Hour})
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	err := s.call(ctx, "search", func() error {
		calls++
		cancel()
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNotFound(t *testing.T) {
	assert.False(t, notFound(nil))
	assert.True(t, notFound(status.Error(codes.NotFound, "collection")))
	assert.True(t, notFound(status.Error(codes.Unknown, "Collection `acme_docs` doesn't exist!")))
	assert.False(t, notFound(status.Error(codes.Unavailable, "down")))
	assert.True(t, alreadyExists(status.Error(codes.AlreadyExists, "exists")))
}
