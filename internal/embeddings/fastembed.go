//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	localMaxLength = 512
	localBatchSize = 64
)

var localModelIDs = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// LocalProvider runs an ONNX embedding model in-process. Model files are
// downloaded into the cache directory on first use.
type LocalProvider struct {
	mu        sync.RWMutex
	flag      *fastembed.FlagEmbedding
	dimension int
}

// NewLocalProvider loads model, downloading it into cacheDir when missing.
func NewLocalProvider(model, cacheDir string) (*LocalProvider, error) {
	id, ok := localModelIDs[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q cannot run locally", ErrInvalidConfig, model)
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "models")
	}

	quiet := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                id,
		CacheDir:             cacheDir,
		MaxLength:            localMaxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", model, err)
	}
	dim, _ := KnownDimension(model)
	return &LocalProvider{flag: flag, dimension: dim}, nil
}

func (p *LocalProvider) Name() string   { return "fastembed" }
func (p *LocalProvider) Dimension() int { return p.dimension }

// EmbedDocuments embeds texts as passages.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.run(ctx, "embed_documents", func(f *fastembed.FlagEmbedding) (err error) {
		out, err = f.PassageEmbed(texts, localBatchSize)
		return err
	})
	return out, err
}

// EmbedQuery embeds text with the model's query prefix.
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := p.run(ctx, "embed_query", func(f *fastembed.FlagEmbedding) (err error) {
		out, err = f.QueryEmbed(text)
		return err
	})
	return out, err
}

func (p *LocalProvider) run(ctx context.Context, op string, fn func(*fastembed.FlagEmbedding) error) error {
	if err := ctx.Err(); err != nil {
		return newProviderError(p.Name(), op, err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.flag == nil {
		return newProviderError(p.Name(), op, fmt.Errorf("%w: provider closed", ErrInvalidConfig))
	}
	if err := fn(p.flag); err != nil {
		return newProviderError(p.Name(), op, err)
	}
	return nil
}

// Close releases the ONNX session. It is safe to call more than once.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil
	}
	err := p.flag.Destroy()
	p.flag = nil
	return err
}
