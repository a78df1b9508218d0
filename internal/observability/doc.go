// Package observability groups the logging, metrics, and tracing support for
// the routing service.
//
// Subpackages:
//   - logging: structured slog loggers with context propagation
//   - metrics: centralized Prometheus collectors for routing, providers,
//     cache, and scheduler state
//   - tracing: the module-level OpenTelemetry tracer
package observability
