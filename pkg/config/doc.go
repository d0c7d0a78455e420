// Package config provides configuration loading and validation for rpx.
//
// # Overview
//
// Configuration is read from a YAML file (rpx.yaml by default), decoded onto
// the defaults, and then overridden by RPX_* environment variables:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("rpx.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, route := range cfg.RouteSpec().Routes() {
//	    // ...
//	}
//
// # Single and multi-route files
//
// A file with a top-level from/to pair describes one Route:
//
//	from: localhost:5173
//	to: app.localhost
//	https: true
//	clean_urls: true
//
// A file with a proxies list describes a RouteSet. Shared options at the top
// level are inherited by every entry unless the entry overrides them:
//
//	https: true
//	change_origin: true
//	proxies:
//	  - from: localhost:5173
//	    to: app.localhost
//	  - from: localhost:3000
//	    to: api.example.test
//	    clean_urls: true
//
// The variant is decided once, at load time, and exposed as RouteSpec.
//
// # Environment Overrides
//
//	RPX_FROM, RPX_TO, RPX_HTTPS, RPX_CLEAN_URLS, RPX_CHANGE_ORIGIN,
//	RPX_VERBOSE, RPX_DNS_PORT, RPX_LOG_LEVEL, RPX_LOG_FORMAT,
//	RPX_METRICS_LISTEN, RPX_BYPASS_CONNECTION_TEST
package config
