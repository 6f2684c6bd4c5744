// Package embedtest provides deterministic embedding providers for tests.
package embedtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// HashProvider maps each lowercase word to a bucket, producing a normalized
// bag-of-words vector. Identical text always yields an identical vector and
// texts that share words score higher under cosine similarity.
type HashProvider struct {
	dim int

	mu        sync.Mutex
	err       error
	documents atomic.Int64
	queries   atomic.Int64
}

// NewHashProvider returns a provider producing vectors of length dim.
func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

// Name returns "hash".
func (p *HashProvider) Name() string { return "hash" }

// Dimension returns the vector length.
func (p *HashProvider) Dimension() int { return p.dim }

// Close is a no-op.
func (p *HashProvider) Close() error { return nil }

// FailWith makes every subsequent call return err; nil restores success.
func (p *HashProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// DocumentCalls returns the number of EmbedDocuments calls.
func (p *HashProvider) DocumentCalls() int { return int(p.documents.Load()) }

// QueryCalls returns the number of EmbedQuery calls.
func (p *HashProvider) QueryCalls() int { return int(p.queries.Load()) }

func (p *HashProvider) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// EmbedDocuments embeds each text.
func (p *HashProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.documents.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.Vector(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (p *HashProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.queries.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}
	return p.Vector(text), nil
}

// Vector computes the embedding of text without counting a call.
func (p *HashProvider) Vector(text string) []float32 {
	vec := make([]float32, p.dim)
	// bias keeps vectors of word-free text non-zero
	vec[0] = 0.1
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%p.dim] += 1
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
