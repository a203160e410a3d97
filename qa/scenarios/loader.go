// Package scenarios runs YAML-described simulations end to end and checks
// their outcome.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/evsim/core/demand"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/simulation"
)

type SimulationDef struct {
	Cars              int     `yaml:"number_of_cars"`
	Plugs             int     `yaml:"number_of_charging_plugs"`
	Steps             int     `yaml:"number_of_steps"`
	MinutesPerStep    int     `yaml:"minutes_per_sim_step"`
	SamplingRateMs    int     `yaml:"sim_sampling_rate"`
	PlugPowerKW       float64 `yaml:"plug_power_kw"`
	BatteryKWh        float64 `yaml:"battery_capacity_kwh"`
	PlugTimeoutMs     int     `yaml:"plug_acquire_timeout_ms"`
	ShutdownTimeoutMs int     `yaml:"shutdown_timeout_ms"`
}

func (s SimulationDef) ToConfig() simulation.Config {
	return simulation.Config{
		NumberOfCars:          s.Cars,
		NumberOfChargingPlugs: s.Plugs,
		NumberOfSteps:         s.Steps,
		MinutesPerSimStep:     s.MinutesPerStep,
		SimSamplingRate:       s.SamplingRateMs,
		PlugPowerKW:           s.PlugPowerKW,
		BatteryCapacityKWh:    s.BatteryKWh,
		PlugAcquireTimeoutMs:  s.PlugTimeoutMs,
		ShutdownTimeoutMs:     s.ShutdownTimeoutMs,
	}
}

type TripDef struct {
	DurationMinutes int     `yaml:"duration_minutes"`
	Consumption     float64 `yaml:"consumption"`
}

func (t TripDef) ToPolicy() fleet.TripPolicy {
	return fleet.FixedTrips{
		Duration:    time.Duration(t.DurationMinutes) * time.Minute,
		Consumption: t.Consumption,
	}
}

type Expected struct {
	MinTravels         int     `yaml:"min_travels"`
	MaxTravels         int     `yaml:"max_travels"`
	MinChargingPeriods int     `yaml:"min_charging_periods"`
	MaxPlugsInUse      int     `yaml:"max_plugs_in_use"`
	MaxDispatchPerStep int     `yaml:"max_dispatch_per_step"`
	AllReady           bool    `yaml:"all_ready"`
	MinEnergyKWh       float64 `yaml:"min_energy_kwh"`
}

type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Simulation  SimulationDef `yaml:"simulation"`
	// Affluence applies to every hour unless Hourly overrides it.
	Affluence int         `yaml:"affluence"`
	Hourly    map[int]int `yaml:"hourly,omitempty"`
	Trip      TripDef     `yaml:"trip"`
	Expected  Expected    `yaml:"expected"`
}

// Oracle builds the demand profile of the scenario.
func (sc Scenario) Oracle() (demand.StaticOracle, error) {
	prof := demand.Constant(sc.Affluence)
	for h, v := range sc.Hourly {
		if h < 0 || h > 23 {
			return prof, fmt.Errorf("scenario %s: hour %d out of range", sc.Name, h)
		}
		prof[h] = v
	}
	return prof, nil
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name required", path)
	}
	return &sc, nil
}
