package api

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
)

// Config defines the HTTP command surface.
type Config struct {
	Addr string `json:"addr"`
	// Token, when set, is required as "Authorization: Bearer <token>" on /api
	// routes and as a token query parameter on /ws.
	Token string `json:"token"`
	// Mode is the gin mode: debug, release or test.
	Mode string `json:"mode"`
	// ExposeMetrics mounts the Prometheus handler on /metrics.
	ExposeMetrics bool `json:"expose_metrics"`
	// AllowedOrigins enables CORS for browser dashboards; "*" allows any.
	AllowedOrigins []string `json:"allowed_origins"`
	// AccessLog is a file receiving an Apache combined access log, "-" for
	// stdout. Empty disables it.
	AccessLog string `json:"access_log"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Mode == "" {
		c.Mode = gin.ReleaseMode
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("api addr required")
	}
	switch c.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		return nil
	default:
		return fmt.Errorf("unknown gin mode %q", c.Mode)
	}
}
