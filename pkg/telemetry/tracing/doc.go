// Package tracing configures OpenTelemetry tracing for the relay.
//
// New installs a global tracer provider exporting over OTLP/gRPC. Components
// never hold a tracer; they call Start, which uses the global provider, so
// spans are free no-ops until tracing is enabled:
//
//	ctx, span := tracing.Start(ctx, "dispatch.execute",
//	    attribute.String(tracing.AttrBackend, "chatgpt"))
//	defer span.End()
//
// Sampling strategies are "always", "never" and "ratio"; all of them are
// parent based. W3C trace context is used for propagation.
package tracing
