package vectorstore

import "fmt"

// Payload field names shared by every backend.
const (
	FieldDocID      = "doc_id"
	FieldContent    = "content"
	FieldTitle      = "title"
	FieldChunkIndex = "chunk_index"
)

// Payload is the metadata stored alongside each chunk vector.
type Payload struct {
	DocID      string `json:"doc_id"`
	Content    string `json:"content"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
}

// Validate checks that the payload can be stored and later resolved back to
// its source document.
func (p Payload) Validate() error {
	if p.DocID == "" {
		return fmt.Errorf("%w: %s is required", ErrMalformedPayload, FieldDocID)
	}
	if p.ChunkIndex < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrMalformedPayload, FieldChunkIndex)
	}
	return nil
}

// Entry is a single vector to write.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a single search result.
type Hit struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload"`
	Score   float32 `json:"score"`
}
