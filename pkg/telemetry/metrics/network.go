package metrics

import (
	"time"

	"stacks-dev/rpx/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DNSMetrics tracks the embedded DNS responder.
type DNSMetrics struct {
	queriesTotal   *prometheus.CounterVec
	malformedTotal prometheus.Counter
}

// NewDNSMetrics creates and registers DNS metrics with the provided registry.
func NewDNSMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DNSMetrics {
	dm := &DNSMetrics{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "dns",
				Name:      "queries_total",
				Help:      "Total number of DNS queries answered by type and response code",
			},
			[]string{"qtype", "rcode"},
		),
		malformedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "dns",
				Name:      "malformed_queries_total",
				Help:      "Total number of datagrams dropped because they could not be parsed",
			},
		),
	}

	registry.MustRegister(dm.queriesTotal, dm.malformedTotal)
	return dm
}

// RecordQuery records an answered query.
func (dm *DNSMetrics) RecordQuery(qtype, rcode string) {
	dm.queriesTotal.WithLabelValues(qtype, rcode).Inc()
}

// RecordMalformed records a dropped datagram.
func (dm *DNSMetrics) RecordMalformed() {
	dm.malformedTotal.Inc()
}

// PortMetrics tracks the port allocator.
type PortMetrics struct {
	probesTotal      *prometheus.CounterVec
	exhaustionsTotal prometheus.Counter
	reserved         prometheus.Gauge
}

// NewPortMetrics creates and registers port allocator metrics with the provided registry.
func NewPortMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PortMetrics {
	pm := &PortMetrics{
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ports",
				Name:      "probes_total",
				Help:      "Total number of port probes by result",
			},
			[]string{"result"},
		),
		exhaustionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ports",
				Name:      "exhaustions_total",
				Help:      "Total number of reservations that ran out of attempts",
			},
		),
		reserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ports",
				Name:      "reserved",
				Help:      "Number of ports currently reserved by this process",
			},
		),
	}

	registry.MustRegister(pm.probesTotal, pm.exhaustionsTotal, pm.reserved)
	return pm
}

// RecordProbe records a probe result.
func (pm *PortMetrics) RecordProbe(result string) {
	pm.probesTotal.WithLabelValues(result).Inc()
}

// RecordExhaustion records an exhausted reservation.
func (pm *PortMetrics) RecordExhaustion() {
	pm.exhaustionsTotal.Inc()
}

// SetReserved sets the reserved port gauge.
func (pm *PortMetrics) SetReserved(n int) {
	pm.reserved.Set(float64(n))
}

// LifecycleMetrics tracks listeners and teardown.
type LifecycleMetrics struct {
	activeListeners prometheus.Gauge
	cleanupRuns     prometheus.Counter
	cleanupDuration prometheus.Histogram
	stepFailures    *prometheus.CounterVec
}

// NewLifecycleMetrics creates and registers lifecycle metrics with the provided registry.
func NewLifecycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LifecycleMetrics {
	lm := &LifecycleMetrics{
		activeListeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "lifecycle",
				Name:      "active_listeners",
				Help:      "Number of listeners currently owned by the coordinator",
			},
		),
		cleanupRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "lifecycle",
				Name:      "cleanup_runs_total",
				Help:      "Total number of teardown sequences executed",
			},
		),
		cleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "lifecycle",
				Name:      "cleanup_duration_seconds",
				Help:      "Duration of teardown sequences in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 5, 10},
			},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "lifecycle",
				Name:      "cleanup_step_failures_total",
				Help:      "Total number of failed teardown steps by step",
			},
			[]string{"step"},
		),
	}

	registry.MustRegister(lm.activeListeners, lm.cleanupRuns, lm.cleanupDuration, lm.stepFailures)
	return lm
}

// SetActiveListeners sets the listener gauge.
func (lm *LifecycleMetrics) SetActiveListeners(n int) {
	lm.activeListeners.Set(float64(n))
}

// RecordCleanup records a completed teardown.
func (lm *LifecycleMetrics) RecordCleanup(duration time.Duration, failedSteps []string) {
	lm.cleanupRuns.Inc()
	lm.cleanupDuration.Observe(duration.Seconds())
	for _, step := range failedSteps {
		lm.stepFailures.WithLabelValues(step).Inc()
	}
}
