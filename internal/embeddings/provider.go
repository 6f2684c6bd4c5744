package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Embedder turns text into vectors, preserving input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder bound to one model.
type Provider interface {
	Embedder
	// Name identifies the provider in errors and metrics.
	Name() string
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultProvider  = "openai"
	DefaultModel     = "text-embedding-3-small"
	DefaultDimension = 1536
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultTimeout   = 30 * time.Second
	// DefaultBatchSize matches the default --max-client-batch-size of
	// text-embeddings-inference.
	DefaultBatchSize = 32
)

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "openai", "tei", "compatible", "fastembed".
	Provider string
	// Model is the embedding model identifier.
	Model string
	// Dimension is the vector length every output must have.
	Dimension int
	// BaseURL is the API root for openai, tei and compatible providers.
	BaseURL string
	// APIKey authenticates against hosted providers.
	APIKey string
	// CacheDir holds downloaded models (fastembed only).
	CacheDir string
	// Timeout bounds a single HTTP call.
	Timeout time.Duration
	// RateLimit is the maximum calls per second; zero disables limiting.
	RateLimit float64
	// Burst is the limiter bucket size.
	Burst int
	// BatchSize caps the texts sent per provider call.
	BatchSize int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Dimension == 0 {
		c.Dimension = DefaultDimension
		if dim, ok := KnownDimension(c.Model); ok {
			c.Dimension = dim
		}
	}
	if c.BaseURL == "" && c.Provider == "openai" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit > 0 && c.Burst == 0 {
		c.Burst = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Validate checks provider-specific requirements.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	switch c.Provider {
	case "openai", "compatible":
		if c.APIKey == "" {
			return fmt.Errorf("%w: api key required for %s provider", ErrInvalidConfig, c.Provider)
		}
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
		}
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
		}
	case "fastembed":
		if !LocalModel(c.Model) {
			return fmt.Errorf("%w: %q cannot run locally", ErrInvalidConfig, c.Model)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit cannot be negative", ErrInvalidConfig)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates the provider named in cfg.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "tei":
		return NewTEIProvider(cfg)
	case "compatible":
		return NewCompatibleProvider(ctx, cfg)
	case "fastembed":
		p, err := NewLocalProvider(cfg.Model, cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		if p.Dimension() != cfg.Dimension {
			_ = p.Close()
			return nil, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
				ErrDimensionMismatch, cfg.Model, p.Dimension(), cfg.Dimension)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
