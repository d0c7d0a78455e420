package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvBypassConnectionTest skips the upstream readiness probe when true.
const EnvBypassConnectionTest = "RPX_BYPASS_CONNECTION_TEST"

// LoadConfig loads configuration from a YAML file at the specified path.
// Values absent from the file keep their defaults. The result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML onto the default configuration and applies defaults to
// whatever the document left empty. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Proxies) > 0 {
		// Multi-route configs carry their from/to inside each entry.
		cfg.From, cfg.To = "", ""
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RPX_FIELD (e.g., RPX_FROM, RPX_DNS_PORT) and always take
// precedence over the file.
//
// A missing file is not an error: defaults plus environment are used.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = DefaultConfig()
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies RPX_* environment variables to the configuration.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RPX_FROM"); val != "" {
		cfg.From = val
	}
	if val := os.Getenv("RPX_TO"); val != "" {
		cfg.To = val
	}
	if b, ok := envBool("RPX_HTTPS"); ok {
		cfg.HTTPS.Enabled = b
	}
	if b, ok := envBool("RPX_CLEAN_URLS"); ok {
		cfg.CleanURLs = b
	}
	if b, ok := envBool("RPX_CHANGE_ORIGIN"); ok {
		cfg.ChangeOrigin = b
	}
	if b, ok := envBool("RPX_VERBOSE"); ok {
		cfg.Verbose = b
		if b {
			cfg.Telemetry.Logging.Level = "debug"
		}
	}
	if val := os.Getenv("RPX_DNS_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.DNS.Port = i
		}
	}
	if val := os.Getenv("RPX_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("RPX_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("RPX_METRICS_LISTEN"); val != "" {
		cfg.Telemetry.Listen = val
	}
	if b, ok := envBool(EnvBypassConnectionTest); ok {
		cfg.Readiness.Bypass = b
	}

	cfg.spec = nil
}

func envBool(name string) (bool, bool) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return false, false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return b, true
}
