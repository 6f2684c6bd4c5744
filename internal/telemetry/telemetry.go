package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Option configures New.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
	logExporter  sdklog.Exporter
}

// WithLogger reports degraded providers through logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpanExporter replaces the OTLP span exporter. Spans are exported
// synchronously so tests observe them without flushing.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithMetricReader replaces the periodic OTLP metric reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithLogExporter replaces the OTLP log exporter. Records are exported
// synchronously.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) { o.logExporter = exp }
}

// Telemetry owns the SDK providers and shuts them down together.
type Telemetry struct {
	cfg    Config
	logger *zap.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	degraded atomic.Bool
}

// New builds the providers described by cfg and installs the tracer and
// meter providers plus W3C trace-context propagation as otel globals.
//
// With cfg.Enabled false nothing is installed and every accessor returns
// the otel defaults. An error is returned only for an invalid cfg;
// exporter failures leave the instance degraded.
func New(ctx context.Context, cfg Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{cfg: cfg, logger: o.logger}
	if !cfg.Enabled {
		return t, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	if tp, err := t.newTracerProvider(ctx, res, o.spanExporter); err != nil {
		t.degrade("traces", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := t.newMeterProvider(ctx, res, o.metricReader); err != nil {
		t.degrade("metrics", err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	if cfg.ExportLogs {
		if lp, err := t.newLoggerProvider(ctx, res, o.logExporter); err != nil {
			t.degrade("logs", err)
		} else {
			t.loggerProvider = lp
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) newTracerProvider(ctx context.Context, res *resource.Resource, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	var processor sdktrace.TracerProviderOption
	if exp != nil {
		processor = sdktrace.WithSyncer(exp)
	} else {
		otlp, err := newSpanExporter(ctx, t.cfg)
		if err != nil {
			return nil, err
		}
		processor = sdktrace.WithBatcher(otlp)
	}
	return sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.cfg.SampleRate))),
	), nil
}

func (t *Telemetry) newMeterProvider(ctx context.Context, res *resource.Resource, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	if reader == nil {
		exp, err := newMetricExporter(ctx, t.cfg)
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(t.cfg.MetricInterval))
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

func (t *Telemetry) newLoggerProvider(ctx context.Context, res *resource.Resource, exp sdklog.Exporter) (*sdklog.LoggerProvider, error) {
	var processor sdklog.Processor
	if exp != nil {
		processor = sdklog.NewSimpleProcessor(exp)
	} else {
		otlp, err := newLogExporter(ctx, t.cfg)
		if err != nil {
			return nil, err
		}
		processor = sdklog.NewBatchProcessor(otlp)
	}
	return sdklog.NewLoggerProvider(sdklog.WithResource(res), sdklog.WithProcessor(processor)), nil
}

func (t *Telemetry) degrade(signal string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry export disabled",
		zap.String("signal", signal),
		zap.String("endpoint", t.cfg.Endpoint),
		zap.Error(err))
}

// LoggerProvider returns the provider for the zap bridge, or nil when logs
// are not exported. Safe on a nil Telemetry.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// Enabled reports whether export was requested.
func (t *Telemetry) Enabled() bool { return t != nil && t.cfg.Enabled }

// Degraded reports whether any provider could not be built.
func (t *Telemetry) Degraded() bool { return t != nil && t.degraded.Load() }

// ForceFlush exports everything buffered.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.ForceFlush(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.ForceFlush(ctx))
	}
	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider. Without a deadline on ctx it
// is bounded by the configured shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down logger provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
