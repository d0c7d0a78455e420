package metrics

import (
	"time"

	"stacks-dev/rpx/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ProxyMetrics tracks the forwarding engine.
//
// Metrics:
//   - rpx_proxy_requests_total: relayed requests by route, method, status
//   - rpx_proxy_request_duration_seconds: request duration histogram by route
//   - rpx_proxy_upstream_errors_total: forwarding failures answered with 502
//   - rpx_proxy_clean_url_fallbacks_total: 404 fallback sequences by result
//   - rpx_proxy_redirects_total: HTTP→HTTPS redirects issued
type ProxyMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	redirects       *prometheus.CounterVec
}

// NewProxyMetrics creates and registers proxy metrics with the provided registry.
func NewProxyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ProxyMetrics {
	pm := &ProxyMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of requests relayed to upstream dev servers",
			},
			[]string{"route", "method", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of relayed requests in seconds",
				// Local dev servers answer in milliseconds; slow builds take seconds.
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "upstream_errors_total",
				Help:      "Total number of forwarding failures answered with 502",
			},
			[]string{"route"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "clean_url_fallbacks_total",
				Help:      "Total number of clean-URL 404 fallback sequences by result",
			},
			[]string{"route", "result"},
		),

		redirects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "redirects_total",
				Help:      "Total number of HTTP to HTTPS redirects issued",
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.upstreamErrors,
		pm.fallbacks,
		pm.redirects,
	)

	return pm
}

// RecordRequest records a relayed request.
func (pm *ProxyMetrics) RecordRequest(route, method, status string, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(route, method, status).Inc()
	pm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpstreamError records a 502.
func (pm *ProxyMetrics) RecordUpstreamError(route string) {
	pm.upstreamErrors.WithLabelValues(route).Inc()
}

// RecordFallback records the result of a clean-URL fallback sequence.
func (pm *ProxyMetrics) RecordFallback(route string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pm.fallbacks.WithLabelValues(route, result).Inc()
}

// RecordRedirect records a 301 to HTTPS.
func (pm *ProxyMetrics) RecordRedirect(route string) {
	pm.redirects.WithLabelValues(route).Inc()
}
