package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TEIProvider calls a Text Embeddings Inference server.
type TEIProvider struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	dimension int
}

// teiRequest is the request body for the TEI /embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// NewTEIProvider creates a TEI provider.
func NewTEIProvider(cfg Config) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return &TEIProvider{
		baseURL:   trimBaseURL(cfg.BaseURL),
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		dimension: cfg.Dimension,
	}, nil
}

// Name returns "tei".
func (p *TEIProvider) Name() string { return "tei" }

// Dimension returns the configured dimension.
func (p *TEIProvider) Dimension() int { return p.dimension }

// EmbedDocuments generates embeddings for multiple texts.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, newProviderError(p.Name(), "embed_documents", ErrEmptyInput)
	}
	return p.embed(ctx, "embed_documents", texts)
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, newProviderError(p.Name(), "embed_query", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, "embed_query", text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, newProviderError(p.Name(), "embed_query", fmt.Errorf("%w: empty response", ErrMalformedResponse))
	}
	return vectors[0], nil
}

func (p *TEIProvider) embed(ctx context.Context, op string, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, newProviderError(p.Name(), op, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, newProviderError(p.Name(), op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newProviderError(p.Name(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("%s", bytes.TrimSpace(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			cause = fmt.Errorf("%w: %s", ErrRateLimited, bytes.TrimSpace(respBody))
		}
		return nil, &ProviderError{Provider: p.Name(), Op: op, StatusCode: resp.StatusCode, Err: cause}
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, newProviderError(p.Name(), op, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return vectors, nil
}

// Close releases idle connections.
func (p *TEIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
