// Package reranker reorders vector search candidates by lexical evidence.
//
// Semantic search alone ranks paraphrases well but can bury a chunk that
// contains the exact product name or error code the user typed. A Reranker
// takes the over-fetched candidates of a search and returns the best topK
// by a score that blends the similarity with query term overlap.
package reranker

import (
	"context"
	"errors"
)

// ErrInvalidWeight is returned for a weight outside [0, 1].
var ErrInvalidWeight = errors.New("reranker: weight must be in [0, 1]")

// Candidate is one search hit offered for reranking.
type Candidate struct {
	Text  string
	Score float32 // similarity from the index
}

// Ranked refers back to a Candidate by its position in the input.
type Ranked struct {
	Index   int
	Score   float32 // blended score used for ordering
	Overlap float32 // fraction of query terms present in the candidate
}

// Reranker reorders candidates for a query.
//
// Rerank returns at most topK results sorted by descending Score; topK <= 0
// returns every candidate. Ties keep the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error)
}
