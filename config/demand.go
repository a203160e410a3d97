package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kilianp07/evsim/auth"
)

// Demand modes.
const (
	DemandHTTP   = "http"
	DemandStatic = "static"
)

// DemandConfig selects where hourly affluence comes from.
type DemandConfig struct {
	// Mode is "http" (the gateway) or "static" (a fixed profile).
	Mode string `json:"mode"`
	// Hourly is the static profile keyed by hour of day.
	Hourly map[string]int `json:"hourly"`
	// ProfileFile is a JSON profile file, merged over Hourly.
	ProfileFile string `json:"profile_file"`
	// TimeoutMs bounds each gateway request.
	TimeoutMs int `json:"timeout_ms"`
	// Auth enables OAuth2 client credentials on gateway requests.
	Auth auth.Conf `json:"auth"`
}

// SetDefaults applies sane defaults.
func (c *DemandConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = DemandHTTP
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 10000
	}
}

// Validate checks the mode against the gateway url.
func (c DemandConfig) Validate(gatewayURL string) error {
	switch c.Mode {
	case DemandHTTP:
		if gatewayURL == "" {
			return errors.New("simulation.gateway_request_base_url required in http mode")
		}
	case DemandStatic:
		for h := range c.Hourly {
			n, err := strconv.Atoi(h)
			if err != nil || n < 0 || n > 23 {
				return fmt.Errorf("hourly key %q is not an hour of day", h)
			}
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Auth.Enabled() && c.Auth.AuthURL == "" {
		return errors.New("auth.auth_url required with auth.client_id")
	}
	if c.TimeoutMs < 0 {
		return errors.New("timeout_ms must be >= 0")
	}
	return nil
}
