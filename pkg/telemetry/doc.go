// Package telemetry bundles the observability stack of rpx: structured
// logging, Prometheus metrics, OpenTelemetry tracing and health endpoints.
//
// # Components
//
//   - logging: slog logger factory with request and trace IDs from context
//   - metrics: Prometheus collector for proxy, DNS, ports and lifecycle
//   - tracing: OpenTelemetry tracer exporting over OTLP gRPC
//   - health: /healthz and /readyz handlers
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, telemetry.BuildInfo{Version: "1.0.0"})
//	defer tel.Shutdown(ctx)
//
//	go tel.Serve(ctx) // /metrics, /healthz, /readyz, /version on telemetry.listen
//
// The telemetry listener is optional. Without telemetry.listen, metrics are
// still recorded but not served.
package telemetry
