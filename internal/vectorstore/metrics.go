package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/vectorstore")

var (
	// OperationsTotal counts index operations by backend, op and result.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "operations_total",
		Help:      "Vector index operations by backend, operation and result",
	}, []string{"backend", "op", "result"})

	// OperationDuration is the latency of index operations.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "operation_duration_seconds",
		Help:      "Vector index operation latency",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
	}, []string{"backend", "op"})

	// EntriesUpserted counts chunk vectors written.
	EntriesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "entries_upserted_total",
		Help:      "Chunk vectors written",
	}, []string{"backend"})

	// NamespacesCreated counts collections created on demand.
	NamespacesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "namespaces_created_total",
		Help:      "Namespace collections created",
	}, []string{"backend"})

	// CircuitOpen is 1 while a backend's circuit breaker rejects calls.
	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "circuit_open",
		Help:      "1 while the backend circuit breaker is open",
	}, []string{"backend"})
)

// begin opens a span for op and returns the function that ends it. The
// returned function reads the operation's final error through errp, so it
// is meant to be deferred against a named error result.
func begin(ctx context.Context, backend, op string, scope tenant.Scope, attrs ...attribute.KeyValue) (context.Context, func(errp *error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String("vectorstore.backend", backend))
	if scope.TenantID != "" {
		attrs = append(attrs, attribute.String("vectorstore.namespace", scope.Namespace()))
	}
	ctx, span := tracer.Start(ctx, "vectorstore."+op, trace.WithAttributes(attrs...))

	return ctx, func(errp *error) {
		result := "success"
		if errp != nil && *errp != nil {
			result = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		OperationsTotal.WithLabelValues(backend, op, result).Inc()
		OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}
