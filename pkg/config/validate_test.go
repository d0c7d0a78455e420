package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("Validate(DefaultConfig()) error = %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:      "from without port",
			modify:    func(c *Config) { c.From = "localhost" },
			wantField: "route.from",
		},
		{
			name:      "from with bad port",
			modify:    func(c *Config) { c.From = "localhost:99999" },
			wantField: "route.from",
		},
		{
			name:      "to with path",
			modify:    func(c *Config) { c.To = "app.localhost/admin" },
			wantField: "route.to",
		},
		{
			name:      "empty start command",
			modify:    func(c *Config) { c.Start = &StartConfig{} },
			wantField: "route.start.command",
		},
		{
			name:      "privileged dns port out of range",
			modify:    func(c *Config) { c.DNS.Port = -1 },
			wantField: "dns.port",
		},
		{
			name:      "multi-label wildcard tld",
			modify:    func(c *Config) { c.DNS.WildcardTLDs = []string{"co.uk"} },
			wantField: "dns.wildcard_tlds[0]",
		},
		{
			name:      "zero attempts",
			modify:    func(c *Config) { c.Ports.MaxAttempts = -5 },
			wantField: "ports.max_attempts",
		},
		{
			name:      "bad log level",
			modify:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name:      "bad cron",
			modify:    func(c *Config) { c.HTTPS.ExpiryCheckSchedule = "every day" },
			wantField: "https.expiry_check_schedule",
		},
		{
			name: "bad sampler",
			modify: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
				c.Telemetry.Tracing.Sampler = "sometimes"
			},
			wantField: "telemetry.tracing.sampler",
		},
		{
			name: "proxy entry without port",
			modify: func(c *Config) {
				c.Proxies = []ProxyEntry{{From: "localhost:5173", To: "a.localhost"}, {From: "nope", To: "b.localhost"}}
			},
			wantField: "proxies[1].from",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() expected error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want ValidationError", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want field %q", verr.Errors, tt.wantField)
			}
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "dns.port", Message: "out of range: 0"},
		{Field: "route.to", Message: "must not be empty"},
	}}

	msg := err.Error()
	if !strings.Contains(msg, "2 errors") {
		t.Errorf("Error() = %q, want error count", msg)
	}
	if !strings.Contains(msg, "dns.port: out of range: 0") {
		t.Errorf("Error() = %q, want field message", msg)
	}
}
