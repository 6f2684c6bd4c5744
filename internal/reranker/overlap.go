package reranker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// DefaultOverlapWeight gives term overlap and similarity equal say.
const DefaultOverlapWeight = 0.5

// TermOverlap blends index similarity with the share of distinct query
// terms found in the candidate text:
//
//	score = (1-w)*similarity + w*overlap
type TermOverlap struct {
	weight float32
}

// NewTermOverlap creates a TermOverlap reranker with overlap weight w.
func NewTermOverlap(w float32) (*TermOverlap, error) {
	if w < 0 || w > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidWeight, w)
	}
	return &TermOverlap{weight: w}, nil
}

// Rerank implements Reranker. A query with no significant terms keeps the
// similarity order.
func (r *TermOverlap) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := distinct(tokenize(query))
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Index: i, Score: c.Score}
		if len(terms) == 0 {
			continue
		}
		overlap := termOverlap(terms, tokenize(c.Text))
		ranked[i].Overlap = overlap
		ranked[i].Score = (1-r.weight)*c.Score + r.weight*overlap
	}

	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// tokenize lowercases text and keeps letter/digit runs of three or more
// runes that are not stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 2 && !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// termOverlap returns the fraction of terms that occur in tokens.
func termOverlap(terms, tokens []string) float32 {
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "from": true,
	"with": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "our": true, "your": true, "its": true, "not": true,
}
