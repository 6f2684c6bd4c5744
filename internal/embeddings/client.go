package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the embedding boundary used by the orchestrators. It rate limits
// calls, validates that output lines up with input and matches the configured
// dimension, and records metrics.
type Client struct {
	provider  Provider
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit limits calls to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithBatchSize caps the number of texts sent in one provider call.
// A size <= 0 sends every text at once.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) { c.batchSize = n }
}

// WithMetrics overrides the metric instruments.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithModel sets the model name reported in metrics.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// NewClient wraps provider. The provider's Dimension is the expected length
// of every vector.
func NewClient(provider Provider, opts ...ClientOption) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if provider.Dimension() <= 0 {
		return nil, fmt.Errorf("%w: provider %s reports dimension %d", ErrInvalidConfig, provider.Name(), provider.Dimension())
	}

	c := &Client{
		provider:  provider,
		dimension: provider.Dimension(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(c.logger)
	}
	return c, nil
}

// Dimension returns the expected vector length.
func (c *Client) Dimension() int { return c.dimension }

// EmbedDocuments embeds texts in consecutive batches of at most the
// configured batch size; output order matches input.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	const op = "embed_documents"
	start := time.Now()
	defer func() {
		c.observe(ctx, op, len(texts), start, err)
	}()

	if len(texts) == 0 {
		return nil, newProviderError(c.provider.Name(), op, ErrEmptyInput)
	}
	size := c.batchSize
	if size <= 0 || size > len(texts) {
		size = len(texts)
	}

	vectors = make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += size {
		hi := min(lo+size, len(texts))
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		batch, err := c.provider.EmbedDocuments(ctx, texts[lo:hi])
		if err != nil {
			return nil, c.fail(ctx, op, err)
		}
		if len(batch) != hi-lo {
			return nil, c.fail(ctx, op, fmt.Errorf("%w: %d vectors for %d texts", ErrMalformedResponse, len(batch), hi-lo))
		}
		for i, v := range batch {
			if err := c.checkDimension(v); err != nil {
				return nil, c.fail(ctx, op, fmt.Errorf("text %d: %w", lo+i, err))
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	const op = "embed_query"
	start := time.Now()
	defer func() {
		c.observe(ctx, op, 1, start, err)
	}()

	if text == "" {
		return nil, newProviderError(c.provider.Name(), op, ErrEmptyInput)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	vector, err = c.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	if err := c.checkDimension(vector); err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return vector, nil
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return newProviderError(c.provider.Name(), op, fmt.Errorf("%w: %v", ErrRateLimited, err))
	}
	return nil
}

func (c *Client) checkDimension(v []float32) error {
	if len(v) != c.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), c.dimension)
	}
	return nil
}

func (c *Client) observe(ctx context.Context, op string, texts int, start time.Time, err error) {
	c.metrics.Observe(ctx, Call{
		Provider: c.provider.Name(),
		Model:    c.model,
		Op:       op,
		Texts:    texts,
		Elapsed:  time.Since(start),
		Err:      err,
	})
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	pe := newProviderError(c.provider.Name(), op, err)
	c.logger.Warn("embedding call failed",
		zap.String("provider", c.provider.Name()),
		zap.String("operation", op),
		zap.Bool("retryable", pe.Retryable()),
		zap.Error(err),
	)
	return pe
}
