package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default values for configuration fields.
const (
	// Route defaults
	DefaultFrom = "localhost:5173"
	DefaultTo   = "stacks.localhost"

	// DNS defaults
	DefaultDNSAddress  = "127.0.0.1"
	DefaultDNSPort     = 15353
	DefaultResolverDir = "/etc/resolver"

	// Port allocator defaults
	DefaultPortMaxAttempts        = 50
	DefaultPortProbeTimeout       = 3 * time.Second
	DefaultPortConnectTimeout     = 3 * time.Second
	DefaultHTTPSFallbackPort      = 3443
	DefaultHTTPFallbackPortOffset = 1000

	// Readiness defaults
	DefaultReadinessRetries     = 5
	DefaultReadinessDialTimeout = 3 * time.Second
	DefaultReadinessHeadTimeout = 5 * time.Second
	DefaultReadinessInterval    = 2 * time.Second
	DefaultReadinessTimeout     = 15 * time.Second

	// Certificate defaults
	DefaultExpiryCheckSchedule = "@daily"

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultMetricsNamespace   = "rpx"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampler     = "always"
	DefaultTracingServiceName = "rpx"
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultWildcardTLDs are answered by the DNS responder for any name.
var DefaultWildcardTLDs = []string{"test"}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{
		From:    DefaultFrom,
		To:      DefaultTo,
		HTTPS:   HTTPSConfig{Enabled: true},
		Cleanup: CleanupConfig{Hosts: true},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{Insecure: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicitly set
// values are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.From == "" && len(cfg.Proxies) == 0 {
		cfg.From = DefaultFrom
	}
	if cfg.To == "" && len(cfg.Proxies) == 0 {
		cfg.To = DefaultTo
	}

	applyHTTPSDefaults(&cfg.HTTPS)
	applyDNSDefaults(&cfg.DNS)

	if cfg.Hosts.Path == "" {
		cfg.Hosts.Path = DefaultHostsPath()
	}

	applyPortsDefaults(&cfg.Ports)
	applyReadinessDefaults(&cfg.Readiness)
	applyTelemetryDefaults(&cfg.Telemetry, cfg.Verbose)

	// Route shape may have changed; decide it again on next access.
	cfg.spec = nil
}

func applyHTTPSDefaults(h *HTTPSConfig) {
	if h.BasePath == "" {
		h.BasePath = DefaultCertBasePath()
	}
	if h.WatchFiles == nil {
		watch := true
		h.WatchFiles = &watch
	}
	if h.ExpiryCheckSchedule == "" {
		h.ExpiryCheckSchedule = DefaultExpiryCheckSchedule
	}
}

func applyDNSDefaults(d *DNSConfig) {
	if d.Address == "" {
		d.Address = DefaultDNSAddress
	}
	if d.Port == 0 {
		d.Port = DefaultDNSPort
	}
	if d.WildcardTLDs == nil {
		d.WildcardTLDs = append([]string(nil), DefaultWildcardTLDs...)
	}
	if d.ResolverDir == "" {
		d.ResolverDir = DefaultResolverDir
	}
}

func applyPortsDefaults(p *PortsConfig) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultPortMaxAttempts
	}
	if p.ProbeTimeout == 0 {
		p.ProbeTimeout = DefaultPortProbeTimeout
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = DefaultPortConnectTimeout
	}
	if p.HTTPSFallback == 0 {
		p.HTTPSFallback = DefaultHTTPSFallbackPort
	}
	if p.HTTPFallbackOffset == 0 {
		p.HTTPFallbackOffset = DefaultHTTPFallbackPortOffset
	}
}

func applyReadinessDefaults(r *ReadinessConfig) {
	if r.Retries == 0 {
		r.Retries = DefaultReadinessRetries
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = DefaultReadinessDialTimeout
	}
	if r.HeadTimeout == 0 {
		r.HeadTimeout = DefaultReadinessHeadTimeout
	}
	if r.Interval == 0 {
		r.Interval = DefaultReadinessInterval
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultReadinessTimeout
	}
}

func applyTelemetryDefaults(t *TelemetryConfig, verbose bool) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
		if verbose {
			t.Logging.Level = "debug"
		}
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
}

// DefaultHostsPath returns the platform hosts file location.
func DefaultHostsPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return filepath.Join(root, "System32", "drivers", "etc", "hosts")
	}
	return "/etc/hosts"
}

// DefaultCertBasePath returns ~/.stacks/ssl, or a relative .stacks/ssl when
// the home directory cannot be determined.
func DefaultCertBasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".stacks", "ssl")
	}
	return filepath.Join(home, ".stacks", "ssl")
}
