package simulation

import (
	"fmt"
	"time"

	"github.com/kilianp07/evsim/core/fleet"
)

// Config holds the parameters of a simulation run.
type Config struct {
	NumberOfCars          int    `json:"number_of_cars"`
	NumberOfChargingPlugs int    `json:"number_of_charging_plugs"`
	NumberOfSteps         int    `json:"number_of_steps"`
	MinutesPerSimStep     int    `json:"minutes_per_sim_step"`
	SimSamplingRate       int    `json:"sim_sampling_rate"` // ms between steps
	EnableDebugMode       bool   `json:"enable_debug_mode"`
	GatewayRequestBaseURL string `json:"gateway_request_base_url"`

	// PlugAcquireTimeoutMs bounds the wait for a plug; 0 waits forever.
	PlugAcquireTimeoutMs int `json:"plug_acquire_timeout_ms"`
	// ShutdownTimeoutMs bounds Stop before in-flight work is interrupted;
	// 0 waits forever.
	ShutdownTimeoutMs  int              `json:"shutdown_timeout_ms"`
	PlugPowerKW        float64          `json:"plug_power_kw"`
	BatteryCapacityKWh float64          `json:"battery_capacity_kwh"`
	Trip               fleet.TripConfig `json:"trip"`
	Seed               uint64           `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MinutesPerSimStep == 0 {
		c.MinutesPerSimStep = 15
	}
	if c.PlugPowerKW == 0 {
		c.PlugPowerKW = 7.4
	}
	if c.BatteryCapacityKWh == 0 {
		c.BatteryCapacityKWh = 50
	}
	c.Trip.SetDefaults()
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch {
	case c.NumberOfCars < 0:
		return fmt.Errorf("number_of_cars must be >= 0, got %d", c.NumberOfCars)
	case c.NumberOfChargingPlugs < 1:
		return fmt.Errorf("number_of_charging_plugs must be >= 1, got %d", c.NumberOfChargingPlugs)
	case c.NumberOfSteps < 0:
		return fmt.Errorf("number_of_steps must be >= 0, got %d", c.NumberOfSteps)
	case c.MinutesPerSimStep <= 0:
		return fmt.Errorf("minutes_per_sim_step must be > 0, got %d", c.MinutesPerSimStep)
	case c.SimSamplingRate < 0:
		return fmt.Errorf("sim_sampling_rate must be >= 0, got %d", c.SimSamplingRate)
	case c.PlugAcquireTimeoutMs < 0 || c.ShutdownTimeoutMs < 0:
		return fmt.Errorf("timeouts must be >= 0")
	case c.PlugPowerKW <= 0:
		return fmt.Errorf("plug_power_kw must be > 0, got %v", c.PlugPowerKW)
	case c.BatteryCapacityKWh <= 0:
		return fmt.Errorf("battery_capacity_kwh must be > 0, got %v", c.BatteryCapacityKWh)
	}
	if err := c.Trip.Validate(); err != nil {
		return fmt.Errorf("trip: %w", err)
	}
	return nil
}

// StepDuration is the simulated time covered by one step.
func (c Config) StepDuration() time.Duration {
	return time.Duration(c.MinutesPerSimStep) * time.Minute
}

// SamplingDelay is the real delay between two steps.
func (c Config) SamplingDelay() time.Duration {
	return time.Duration(c.SimSamplingRate) * time.Millisecond
}

func (c Config) plugTimeout() time.Duration {
	return time.Duration(c.PlugAcquireTimeoutMs) * time.Millisecond
}

func (c Config) shutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}
