package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/ragd/internal/embeddings"

// Call describes one finished embedding request.
type Call struct {
	Provider string
	Model    string
	Op       string
	Texts    int
	Elapsed  time.Duration
	Err      error
}

// Metrics records embedding latency, text volume and failures. A nil
// *Metrics records nothing.
type Metrics struct {
	latency  metric.Float64Histogram
	texts    metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(meterName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	var m Metrics
	var err error

	// Hosted providers answer in tens to hundreds of milliseconds; cold
	// local models can take several seconds.
	if m.latency, err = meter.Float64Histogram("ragd.embeddings.latency",
		metric.WithDescription("Embedding call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30),
	); err != nil {
		logger.Warn("registering embedding latency histogram", zap.Error(err))
	}
	if m.texts, err = meter.Int64Counter("ragd.embeddings.texts",
		metric.WithDescription("Texts sent for embedding, successful or not"),
		metric.WithUnit("{text}"),
	); err != nil {
		logger.Warn("registering embedding text counter", zap.Error(err))
	}
	if m.failures, err = meter.Int64Counter("ragd.embeddings.failures",
		metric.WithDescription("Failed embedding calls by retryability"),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("registering embedding failure counter", zap.Error(err))
	}
	return &m
}

// Observe records c.
func (m *Metrics) Observe(ctx context.Context, c Call) {
	if m == nil {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("provider", c.Provider),
		attribute.String("model", c.Model),
		attribute.String("operation", c.Op),
	}
	attrs := metric.WithAttributes(base...)

	if m.latency != nil {
		m.latency.Record(ctx, c.Elapsed.Seconds(), attrs)
	}
	if m.texts != nil && c.Texts > 0 {
		m.texts.Add(ctx, int64(c.Texts), attrs)
	}
	if m.failures != nil && c.Err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(append(base, attribute.Bool("retryable", IsRetryable(c.Err)))...))
	}
}
