package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// MaxDocIDLength bounds document identifiers.
const MaxDocIDLength = 256

// Document is the unit of ingestion. Re-ingesting a document replaces it.
type Document struct {
	Scope   tenant.Scope `json:"scope"`
	ID      string       `json:"doc_id"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
}

// Validate checks the scope and document ID.
func (d Document) Validate() error {
	if err := d.Scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return validateDocID(d.ID)
}

func validateDocID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: doc_id is required", ErrInvalidDocument)
	}
	if len(id) > MaxDocIDLength {
		return fmt.Errorf("%w: doc_id exceeds %d bytes", ErrInvalidDocument, MaxDocIDLength)
	}
	return nil
}

// ContextItem is one retrieved chunk, as returned to callers and cached.
type ContextItem struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// State is an ingestion lifecycle state.
type State string

// Ingestion states in the order they are reached.
const (
	StateReceived State = "received"
	StateChunked  State = "chunked"
	StateEmbedded State = "embedded"
	StateIndexed  State = "indexed"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateObserver is notified of every state an ingestion passes through.
// err is non-nil only with StateFailed.
type StateObserver func(ctx context.Context, doc Document, state State, err error)

// Result summarizes a completed ingestion.
type Result struct {
	DocID     string   `json:"doc_id"`
	Namespace string   `json:"namespace"`
	Chunks    int      `json:"chunks"`
	ChunkIDs  []string `json:"chunk_ids,omitempty"`
	State     State    `json:"state"`
}

// ChunkID returns the deterministic identifier of chunk i of docID: a
// name-based UUID over "<docID>_<i>", which is also a valid Qdrant point ID.
func ChunkID(docID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_%d", docID, i))).String()
}
