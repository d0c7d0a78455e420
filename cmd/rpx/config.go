package main

import (
	"errors"

	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/config"
)

// loadConfig reads the --config file, applies RPX_* overrides and the
// global --verbose flag. A missing file yields the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, asConfigError(err)
	}
	if verbose {
		cfg.Verbose = true
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// asConfigError converts validation failures into a cli.ConfigError so the
// binary exits with the configuration status.
func asConfigError(err error) error {
	var verr config.ValidationError
	if errors.As(err, &verr) && len(verr.Errors) == 1 {
		return cli.NewConfigError(verr.Errors[0].Field, verr.Errors[0].Message)
	}
	return cli.NewConfigError("", err.Error())
}
