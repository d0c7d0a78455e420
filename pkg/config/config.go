package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for rpx.
// A config with a non-empty Proxies list describes a RouteSet; otherwise the
// top-level From/To pair describes a single Route.
type Config struct {
	// From is the upstream dev server address (e.g. "localhost:5173").
	// Default: "localhost:5173"
	From string `yaml:"from"`

	// To is the public-facing hostname (e.g. "app.localhost").
	// Default: "stacks.localhost"
	To string `yaml:"to"`

	// HTTPS controls TLS termination. Accepts a bool or a mapping.
	HTTPS HTTPSConfig `yaml:"https"`

	// CleanURLs maps extensionless paths to .html / index.html resources.
	CleanURLs bool `yaml:"clean_urls"`

	// ChangeOrigin rewrites the forwarded Host header to the upstream host:port.
	ChangeOrigin bool `yaml:"change_origin"`

	// Start is an optional dev command to bring up before proxying.
	Start *StartConfig `yaml:"start"`

	// Proxies switches the configuration into multi-route mode.
	Proxies []ProxyEntry `yaml:"proxies"`

	// Cleanup controls teardown behavior. Accepts a bool or a mapping.
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Verbose enables debug logging for every component.
	Verbose bool `yaml:"verbose"`

	// DNS contains the embedded DNS responder configuration.
	DNS DNSConfig `yaml:"dns"`

	// Hosts contains hosts-file management configuration.
	Hosts HostsConfig `yaml:"hosts"`

	// Ports contains port allocator tuning.
	Ports PortsConfig `yaml:"ports"`

	// Readiness contains upstream readiness probe tuning.
	Readiness ReadinessConfig `yaml:"readiness"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	spec RouteSpec
}

// ProxyEntry is one element of a multi-route configuration. Unset options
// inherit the shared top-level values.
type ProxyEntry struct {
	From         string       `yaml:"from"`
	To           string       `yaml:"to"`
	CleanURLs    *bool        `yaml:"clean_urls"`
	ChangeOrigin *bool        `yaml:"change_origin"`
	Start        *StartConfig `yaml:"start"`
}

// StartConfig describes a dev server command supervised by rpx.
type StartConfig struct {
	Command string            `yaml:"command"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
}

// HTTPSConfig contains TLS termination settings.
type HTTPSConfig struct {
	// Enabled turns on TLS termination for every route.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// BasePath is the directory holding generated certificates.
	// Default: "~/.stacks/ssl"
	BasePath string `yaml:"base_path"`

	// KeyPath, CertPath and CACertPath override the derived file locations.
	KeyPath    string `yaml:"key_path"`
	CertPath   string `yaml:"cert_path"`
	CACertPath string `yaml:"ca_cert_path"`

	// WatchFiles reloads the serving certificate when the files change on disk.
	// Default: true
	WatchFiles *bool `yaml:"watch_files"`

	// ExpiryCheckSchedule is a cron expression for certificate expiry checks.
	// An empty value disables the check.
	// Default: "@daily"
	ExpiryCheckSchedule string `yaml:"expiry_check_schedule"`
}

// UnmarshalYAML accepts either `https: true|false` or a mapping.
func (h *HTTPSConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return fmt.Errorf("https: %w", err)
		}
		*h = HTTPSConfig{Enabled: enabled}
		return nil
	}

	type plain HTTPSConfig
	out := plain{Enabled: true}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*h = HTTPSConfig(out)
	return nil
}

// CleanupConfig controls what is torn down when rpx exits.
type CleanupConfig struct {
	// Hosts removes hosts-file entries added for non-loopback domains.
	// Default: true
	Hosts bool `yaml:"hosts"`

	// Certs deletes generated certificate files.
	// Default: false
	Certs bool `yaml:"certs"`

	// Domains restricts cleanup to specific domains. Empty means all routes.
	Domains []string `yaml:"domains"`
}

// UnmarshalYAML accepts either `cleanup: true|false` or a mapping.
func (c *CleanupConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		*c = CleanupConfig{Hosts: enabled, Certs: enabled}
		return nil
	}

	type plain CleanupConfig
	out := plain{Hosts: true}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*c = CleanupConfig(out)
	return nil
}

// DNSConfig contains configuration for the embedded DNS responder.
type DNSConfig struct {
	// Enabled starts the responder for non-loopback route domains.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Address is the loopback address to bind.
	// Default: "127.0.0.1"
	Address string `yaml:"address"`

	// Port is the UDP port to bind. It must be unprivileged.
	// Default: 15353
	Port int `yaml:"port"`

	// WildcardTLDs are answered regardless of the configured domains.
	// Default: ["test"]
	WildcardTLDs []string `yaml:"wildcard_tlds"`

	// ResolverDir is where per-TLD resolver files are written on darwin.
	// Default: "/etc/resolver"
	ResolverDir string `yaml:"resolver_dir"`
}

// IsEnabled reports whether the DNS responder should run.
func (d DNSConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// HostsConfig contains hosts-file configuration.
type HostsConfig struct {
	// Path is the hosts file location.
	// Default: platform hosts file
	Path string `yaml:"path"`

	// Manage adds entries for non-loopback domains at startup.
	// Default: true
	Manage *bool `yaml:"manage"`
}

// IsManaged reports whether hosts entries should be added at startup.
func (h HostsConfig) IsManaged() bool {
	return h.Manage == nil || *h.Manage
}

// PortsConfig tunes the port allocator.
type PortsConfig struct {
	// MaxAttempts bounds the number of ports probed per reservation.
	// Default: 50
	MaxAttempts int `yaml:"max_attempts"`

	// ProbeTimeout bounds each bind probe.
	// Default: 3s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ConnectTimeout bounds the connect-to-self connectivity test.
	// Default: 3s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HTTPSFallback is the first port tried when 443 is taken.
	// Default: 3443
	HTTPSFallback int `yaml:"https_fallback"`

	// HTTPFallbackOffset is added to the target port when it is taken.
	// Default: 1000
	HTTPFallbackOffset int `yaml:"http_fallback_offset"`
}

// ReadinessConfig tunes the upstream readiness probe.
type ReadinessConfig struct {
	// Retries is the number of probe attempts.
	// Default: 5
	Retries int `yaml:"retries"`

	// DialTimeout bounds the raw TCP probe.
	// Default: 3s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// HeadTimeout bounds the HTTP HEAD fallback probe.
	// Default: 5s
	HeadTimeout time.Duration `yaml:"head_timeout"`

	// Interval is the pause between attempts.
	// Default: 2s
	Interval time.Duration `yaml:"interval"`

	// Timeout caps the whole probe.
	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`

	// Bypass skips the probe entirely (RPX_BYPASS_CONNECTION_TEST).
	Bypass bool `yaml:"bypass"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Listen is the address of the /metrics, /healthz and /readyz listener.
	// Empty disables it.
	Listen string `yaml:"listen"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is one of "json", "text", "console".
	// Default: "console"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains prometheus configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "rpx"
	Namespace string `yaml:"namespace"`
}

// IsEnabled reports whether metrics should be recorded.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	// Enabled turns on span export.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables transport security to the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Sampler is one of "always", "never", "ratio".
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is used with the "ratio" sampler.
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as the resource service.name.
	// Default: "rpx"
	ServiceName string `yaml:"service_name"`

	// Timeout bounds exporter calls.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
