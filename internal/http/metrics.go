package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/ragd/internal/http"

// RequestMetrics records per-route request counts, latency and in-flight
// requests. Instruments that fail to register are left nil and skipped.
type RequestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewRequestMetrics registers the instruments on the global meter provider.
func NewRequestMetrics(logger *zap.Logger) *RequestMetrics {
	return newRequestMetrics(otel.Meter(meterName), logger)
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *RequestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var (
		m   RequestMetrics
		err error
	)
	m.requests, err = meter.Int64Counter("ragd.http.requests",
		metric.WithDescription("HTTP requests by method, route and status class"),
		metric.WithUnit("{request}"))
	warn("ragd.http.requests", err)

	// Retrieval p99 sits well under a second; ingestion accepts are faster still.
	m.latency, err = meter.Float64Histogram("ragd.http.request.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.002, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10))
	warn("ragd.http.request.duration", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragd.http.requests.in_flight",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"))
	warn("ragd.http.requests.in_flight", err)

	return &m
}

// Middleware records one observation per request. The route label is the
// Echo route template so tenant, project and job IDs never become label
// values. SSE streams count toward in-flight for their whole lifetime.
func (m *RequestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			set := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.String("status_class", statusClass(responseStatus(c, err))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), set)
			}
			return err
		}
	}
}

// responseStatus reports the status the client will see. A handler error is
// written by the error handler after the middleware chain unwinds, so the
// recorder still shows 200 at this point.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Unmatched requests have no route template.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
