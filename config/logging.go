package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingConfig defines the application log output.
type LoggingConfig struct {
	// Level is a zerolog level name: info, warn or error. Debug output is
	// enabled by simulation.enable_debug_mode only.
	Level string `json:"level"`
	// Format is "console" or "json". Empty follows APP_ENV.
	Format string `json:"format"`
}

// SetDefaults applies sane defaults. debug is the simulation's
// enable_debug_mode flag and gates debug output: when set the level is
// debug, otherwise the level is never below info.
func (c *LoggingConfig) SetDefaults(debug bool) {
	if debug {
		c.Level = zerolog.DebugLevel.String()
		return
	}
	if c.Level == "" {
		c.Level = zerolog.InfoLevel.String()
		return
	}
	if lvl, err := zerolog.ParseLevel(c.Level); err == nil && lvl < zerolog.InfoLevel {
		c.Level = zerolog.InfoLevel.String()
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("unknown level %s", c.Level)
	}
	if c.Format != "" && c.Format != "console" && c.Format != "json" {
		return fmt.Errorf("unknown format %s", c.Format)
	}
	return nil
}
