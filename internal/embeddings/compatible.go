package embeddings

import (
	"context"
	"fmt"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
)

// CompatibleProvider calls any OpenAI-compatible embeddings endpoint
// (vLLM, Ollama, Zhipu, Azure gateways) through the eino embedder.
type CompatibleProvider struct {
	embedder  einoembedding.Embedder
	dimension int
}

// NewCompatibleProvider creates an OpenAI-compatible provider.
func NewCompatibleProvider(ctx context.Context, cfg Config) (*CompatibleProvider, error) {
	embedder, err := openaiembed.NewEmbedder(ctx, &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: trimBaseURL(cfg.BaseURL),
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating compatible embedder: %w", err)
	}
	return &CompatibleProvider{embedder: embedder, dimension: cfg.Dimension}, nil
}

// Name returns "compatible".
func (p *CompatibleProvider) Name() string { return "compatible" }

// Dimension returns the configured dimension.
func (p *CompatibleProvider) Dimension() int { return p.dimension }

// EmbedDocuments embeds texts in one request.
func (p *CompatibleProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, newProviderError(p.Name(), "embed_documents", ErrEmptyInput)
	}
	raw, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, newProviderError(p.Name(), "embed_documents", err)
	}
	return toFloat32(raw), nil
}

// EmbedQuery embeds a single query.
func (p *CompatibleProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, newProviderError(p.Name(), "embed_query", ErrEmptyInput)
	}
	raw, err := p.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, newProviderError(p.Name(), "embed_query", err)
	}
	if len(raw) == 0 {
		return nil, newProviderError(p.Name(), "embed_query", fmt.Errorf("%w: empty response", ErrMalformedResponse))
	}
	return toFloat32(raw)[0], nil
}

// Close is a no-op.
func (p *CompatibleProvider) Close() error { return nil }

func toFloat32(in [][]float64) [][]float32 {
	out := make([][]float32, len(in))
	for i, v := range in {
		vec := make([]float32, len(v))
		for j, f := range v {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out
}
