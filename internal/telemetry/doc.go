// Package telemetry wires ragd's OpenTelemetry providers.
//
// New installs a TracerProvider and MeterProvider as the otel globals, so
// packages instrument themselves with otel.Tracer and otel.Meter and need no
// reference to this package. Log records reach the collector through the
// LoggerProvider, which the logging package bridges from zap.
//
// Export problems never stop the service: a provider that cannot be built
// is skipped and the instance reports itself degraded.
package telemetry
