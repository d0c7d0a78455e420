// Package metrics provides Prometheus metrics collection for rpx.
//
// # Metrics Categories
//
//   - Proxy: relayed requests, durations, 502s, clean-URL fallbacks, redirects
//   - DNS: answered queries by type and response code, malformed datagrams
//   - Ports: probe results, exhausted reservations, reserved port gauge
//   - Lifecycle: active listeners, teardown runs and failed steps
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRequest("app.localhost", "GET", 200, 12*time.Millisecond)
//	mux.Handle("/metrics", collector.Handler())
//
// Every Record method is a no-op on a nil *Collector or when metrics are
// disabled, so components accept an optional collector.
package metrics
