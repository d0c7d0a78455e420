package metrics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"stacks-dev/rpx/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric rpx exports. All methods are safe to
// call on a nil *Collector so components can run without metrics.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	proxyMetrics     *ProxyMetrics
	dnsMetrics       *DNSMetrics
	portMetrics      *PortMetrics
	lifecycleMetrics *LifecycleMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a private registry is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	http.Handle("/metrics", collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.proxyMetrics = NewProxyMetrics(cfg, registry)
	c.dnsMetrics = NewDNSMetrics(cfg, registry)
	c.portMetrics = NewPortMetrics(cfg, registry)
	c.lifecycleMetrics = NewLifecycleMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.IsEnabled()
}

// RecordRequest records a relayed request.
//
// Parameters:
//   - route: the public hostname of the route (e.g. "app.localhost")
//   - method: HTTP method
//   - status: status code returned to the client
//   - duration: total time spent serving the request
func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}

	labelSet := fmt.Sprintf("request:%s:%s", route, method)
	if !c.cardinalityLimiter.Allow(labelSet) {
		method = "other"
	}

	c.proxyMetrics.RecordRequest(route, method, strconv.Itoa(status), duration)
}

// RecordUpstreamError records a forwarding failure answered with 502.
func (c *Collector) RecordUpstreamError(route string) {
	if !c.enabled() {
		return
	}
	c.proxyMetrics.RecordUpstreamError(route)
}

// RecordCleanURLFallback records the outcome of a clean-URL 404 fallback
// sequence. hit is true when an alternate path returned 200.
func (c *Collector) RecordCleanURLFallback(route string, hit bool) {
	if !c.enabled() {
		return
	}
	c.proxyMetrics.RecordFallback(route, hit)
}

// RecordRedirect records a 301 issued by an HTTP→HTTPS redirect listener.
func (c *Collector) RecordRedirect(route string) {
	if !c.enabled() {
		return
	}
	c.proxyMetrics.RecordRedirect(route)
}

// RecordDNSQuery records an answered DNS query.
//
// Parameters:
//   - qtype: question type mnemonic ("A", "AAAA", "MX", ...)
//   - rcode: "NOERROR" or "NXDOMAIN"
func (c *Collector) RecordDNSQuery(qtype, rcode string) {
	if !c.enabled() {
		return
	}
	c.dnsMetrics.RecordQuery(qtype, rcode)
}

// RecordDNSMalformed records a datagram that could not be parsed.
func (c *Collector) RecordDNSMalformed() {
	if !c.enabled() {
		return
	}
	c.dnsMetrics.RecordMalformed()
}

// RecordPortProbe records a single port probe.
//
// Parameters:
//   - result: "free", "busy" or "unreachable" (failed connectivity test)
func (c *Collector) RecordPortProbe(result string) {
	if !c.enabled() {
		return
	}
	c.portMetrics.RecordProbe(result)
}

// RecordPortExhaustion records a reservation that ran out of attempts.
func (c *Collector) RecordPortExhaustion() {
	if !c.enabled() {
		return
	}
	c.portMetrics.RecordExhaustion()
}

// SetReservedPorts updates the reserved port gauge.
func (c *Collector) SetReservedPorts(n int) {
	if !c.enabled() {
		return
	}
	c.portMetrics.SetReserved(n)
}

// SetActiveListeners updates the active listener gauge.
func (c *Collector) SetActiveListeners(n int) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.SetActiveListeners(n)
}

// RecordCleanup records a completed teardown sequence and its failed steps.
func (c *Collector) RecordCleanup(duration time.Duration, failedSteps []string) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.RecordCleanup(duration, failedSteps)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label set may be recorded: either it was seen
// before or the limit has not been reached yet.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
