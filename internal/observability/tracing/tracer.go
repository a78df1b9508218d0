// Package tracing exposes the module-level OpenTelemetry tracer.
// Exporter and SDK setup belong to the deployment; library code only
// creates spans through the tracer returned here.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer instance for the routing service.
var tracer = otel.Tracer("modelmux")

// Tracer returns the global tracer for creating spans.
//
// Example usage:
//
//	ctx, span := tracing.Tracer().Start(ctx, "operation-name")
//	defer span.End()
func Tracer() trace.Tracer {
	return tracer
}
