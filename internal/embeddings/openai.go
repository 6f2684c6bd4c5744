package embeddings

import (
	"context"
	"fmt"
	"net/http"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const openAIBatchSize = 256

// OpenAIProvider calls the OpenAI embeddings API through langchaingo.
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	model     string
	dimension int
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	llm, err := openai.New(
		openai.WithBaseURL(trimBaseURL(cfg.BaseURL)),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithBatchSize(openAIBatchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Dimension returns the configured dimension.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// EmbedDocuments embeds texts in batches of openAIBatchSize.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, newProviderError(p.Name(), "embed_documents", err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, newProviderError(p.Name(), "embed_query", err)
	}
	return vector, nil
}

// Close is a no-op; the HTTP client holds no resources.
func (p *OpenAIProvider) Close() error { return nil }
