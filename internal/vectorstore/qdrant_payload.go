package vectorstore

import (
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		FieldDocID:      p.DocID,
		FieldContent:    p.Content,
		FieldTitle:      p.Title,
		FieldChunkIndex: int64(p.ChunkIndex),
	})
}

func stringField(values map[string]*qdrant.Value, key string) (string, bool) {
	v, ok := values[key].GetKind().(*qdrant.Value_StringValue)
	if !ok {
		return "", false
	}
	return v.StringValue, true
}

func payloadFromQdrant(values map[string]*qdrant.Value) (Payload, error) {
	var (
		p  Payload
		ok bool
	)
	if p.DocID, ok = stringField(values, FieldDocID); !ok {
		return Payload{}, fmt.Errorf("%w: %s missing or not a string", ErrMalformedPayload, FieldDocID)
	}
	if p.Content, ok = stringField(values, FieldContent); !ok {
		return Payload{}, fmt.Errorf("%w: %s missing or not a string", ErrMalformedPayload, FieldContent)
	}
	p.Title, _ = stringField(values, FieldTitle)

	// JSON clients may have written the index as a float.
	switch n := values[FieldChunkIndex].GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		p.ChunkIndex = int(n.IntegerValue)
	case *qdrant.Value_DoubleValue:
		p.ChunkIndex = int(n.DoubleValue)
	default:
		return Payload{}, fmt.Errorf("%w: %s missing or not a number", ErrMalformedPayload, FieldChunkIndex)
	}
	return p, p.Validate()
}

func hitFromScoredPoint(sp *qdrant.ScoredPoint) (Hit, error) {
	payload, err := payloadFromQdrant(sp.GetPayload())
	if err != nil {
		return Hit{}, err
	}
	id := sp.GetId().GetUuid()
	if id == "" {
		id = strconv.FormatUint(sp.GetId().GetNum(), 10)
	}
	return Hit{ID: id, Payload: payload, Score: sp.GetScore()}, nil
}

func docIDFilter(docID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(FieldDocID, docID)}}
}

// staleChunkFilter matches the chunks of docID from index keep onwards.
func staleChunkFilter(docID string, keep int) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(FieldDocID, docID),
		qdrant.NewRange(FieldChunkIndex, &qdrant.Range{Gte: qdrant.PtrOf(float64(keep))}),
	}}
}
