// Package tracing provides OpenTelemetry tracing for rpx.
//
// Each relayed request gets a server span carrying the route, upstream and
// status; the W3C traceparent header is injected into the upstream request
// so dev servers that are themselves instrumented join the same trace.
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317  # OTLP gRPC
//	    insecure: true
//	    sampler: ratio            # always, never, ratio
//	    sample_ratio: 0.25
//
// Tracing is off by default. A disabled tracer returns no-op spans, so call
// sites never check whether tracing is on.
package tracing
