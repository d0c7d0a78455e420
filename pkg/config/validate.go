package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "dns.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All field errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	for i, r := range cfg.RouteSpec().Routes() {
		prefix := "route"
		if len(cfg.Proxies) > 0 {
			prefix = fmt.Sprintf("proxies[%d]", i)
		}
		errs = append(errs, validateRoute(prefix, r)...)
	}

	errs = append(errs, validateDNS(&cfg.DNS)...)
	errs = append(errs, validatePorts(&cfg.Ports)...)
	errs = append(errs, validateReadiness(&cfg.Readiness)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if s := cfg.HTTPS.ExpiryCheckSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, FieldError{
				Field:   "https.expiry_check_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", s, err),
			})
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRoute(prefix string, r Route) []FieldError {
	var errs []FieldError

	hostPort := UpstreamHostPort(r.From)
	if hostPort == "" {
		errs = append(errs, FieldError{Field: prefix + ".from", Message: "must not be empty"})
	} else if _, port, err := net.SplitHostPort(hostPort); err != nil {
		errs = append(errs, FieldError{
			Field:   prefix + ".from",
			Message: fmt.Sprintf("must be host:port, got %q", r.From),
		})
	} else if !validPort(port) {
		errs = append(errs, FieldError{
			Field:   prefix + ".from",
			Message: fmt.Sprintf("invalid port %q", port),
		})
	}

	if strings.TrimSpace(r.To) == "" {
		errs = append(errs, FieldError{Field: prefix + ".to", Message: "must not be empty"})
	} else if strings.ContainsAny(r.To, " /:") {
		errs = append(errs, FieldError{
			Field:   prefix + ".to",
			Message: fmt.Sprintf("must be a bare hostname, got %q", r.To),
		})
	}

	if r.Start != nil && strings.TrimSpace(r.Start.Command) == "" {
		errs = append(errs, FieldError{Field: prefix + ".start.command", Message: "must not be empty"})
	}

	return errs
}

func validateDNS(cfg *DNSConfig) []FieldError {
	var errs []FieldError

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, FieldError{Field: "dns.port", Message: fmt.Sprintf("out of range: %d", cfg.Port)})
	}
	if ip := net.ParseIP(cfg.Address); ip == nil {
		errs = append(errs, FieldError{Field: "dns.address", Message: fmt.Sprintf("not an IP address: %q", cfg.Address)})
	}
	for i, tld := range cfg.WildcardTLDs {
		if tld == "" || strings.Contains(tld, ".") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("dns.wildcard_tlds[%d]", i),
				Message: fmt.Sprintf("must be a single label, got %q", tld),
			})
		}
	}

	return errs
}

func validatePorts(cfg *PortsConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "ports.max_attempts", Message: "must be at least 1"})
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, FieldError{Field: "ports.probe_timeout", Message: "must be positive"})
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{Field: "ports.connect_timeout", Message: "must be positive"})
	}
	if cfg.HTTPSFallback < 1 || cfg.HTTPSFallback > 65535 {
		errs = append(errs, FieldError{Field: "ports.https_fallback", Message: fmt.Sprintf("out of range: %d", cfg.HTTPSFallback)})
	}
	if cfg.HTTPFallbackOffset < 1 {
		errs = append(errs, FieldError{Field: "ports.http_fallback_offset", Message: "must be positive"})
	}

	return errs
}

func validateReadiness(cfg *ReadinessConfig) []FieldError {
	var errs []FieldError

	if cfg.Retries < 1 {
		errs = append(errs, FieldError{Field: "readiness.retries", Message: "must be at least 1"})
	}
	if cfg.DialTimeout <= 0 || cfg.HeadTimeout <= 0 || cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "readiness", Message: "timeouts must be positive"})
	}
	if cfg.Interval < 0 {
		errs = append(errs, FieldError{Field: "readiness.interval", Message: "must not be negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error; got %q", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("must be one of json, text, console; got %q", cfg.Logging.Format),
		})
	}

	if cfg.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			errs = append(errs, FieldError{Field: "telemetry.listen", Message: fmt.Sprintf("must be host:port, got %q", cfg.Listen)})
		}
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("must be one of always, never, ratio; got %q", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
		}
	}

	return errs
}

func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 65535
}
