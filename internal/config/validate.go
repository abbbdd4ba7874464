package config

import (
	"fmt"

	"go.uber.org/multierr"
)

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"json": true, "text": true}
	validOutputs = map[string]bool{"html": true, "json": true}
)

// Validate reports every problem in the configuration at once
func (cfg *Config) Validate() error {
	var err error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("server timeouts must not be negative"))
	}
	for i, k := range cfg.Auth.APIKeys {
		if k.Key == "" {
			err = multierr.Append(err, fmt.Errorf("auth.api_keys[%d] (%s) has an empty key", i, k.Name))
		}
	}
	if !validOutputs[cfg.Engine.Output] {
		err = multierr.Append(err, fmt.Errorf("engine.output %q must be html or json", cfg.Engine.Output))
	}
	if cfg.Light.PulsePeriod < 0 || cfg.Light.IdleOff < 0 {
		err = multierr.Append(err, fmt.Errorf("light timings must not be negative"))
	}
	if cfg.Display.AutoReset < 0 {
		err = multierr.Append(err, fmt.Errorf("display.auto_reset must not be negative"))
	}
	if !validLevels[cfg.Logging.Level] {
		err = multierr.Append(err, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}
	if !validFormats[cfg.Logging.Format] {
		err = multierr.Append(err, fmt.Errorf("logging.format %q must be json or text", cfg.Logging.Format))
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
