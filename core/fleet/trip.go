package fleet

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Trip is the outcome of planning a travel.
type Trip struct {
	Duration    time.Duration
	Consumption float64 // battery units, 10 = full
}

// TripPolicy plans travels. Implementations must be safe for concurrent use.
type TripPolicy interface {
	Plan(carID int, start time.Time) Trip
}

// TripPolicyFunc adapts a function to TripPolicy.
type TripPolicyFunc func(carID int, start time.Time) Trip

func (f TripPolicyFunc) Plan(carID int, start time.Time) Trip { return f(carID, start) }

// FixedTrips plans identical travels.
type FixedTrips Trip

func (f FixedTrips) Plan(int, time.Time) Trip { return Trip(f) }

// TripConfig parametrises GaussianTrips.
type TripConfig struct {
	MeanMinutes          float64 `json:"mean_minutes"`
	StddevMinutes        float64 `json:"stddev_minutes"`
	MinMinutes           float64 `json:"min_minutes"`
	ConsumptionPerMinute float64 `json:"consumption_per_minute"`
}

// SetDefaults applies sane defaults.
func (c *TripConfig) SetDefaults() {
	if c.MeanMinutes == 0 {
		c.MeanMinutes = 45
	}
	if c.StddevMinutes == 0 {
		c.StddevMinutes = 20
	}
	if c.MinMinutes == 0 {
		c.MinMinutes = 10
	}
	if c.ConsumptionPerMinute == 0 {
		c.ConsumptionPerMinute = 0.06
	}
}

// Validate checks the parameters.
func (c TripConfig) Validate() error {
	if c.MeanMinutes <= 0 || c.MinMinutes <= 0 {
		return fmt.Errorf("trip mean_minutes and min_minutes must be positive")
	}
	if c.StddevMinutes < 0 {
		return fmt.Errorf("trip stddev_minutes must not be negative")
	}
	if c.ConsumptionPerMinute < 0 {
		return fmt.Errorf("trip consumption_per_minute must not be negative")
	}
	return nil
}

// GaussianTrips draws trip lengths from a normal distribution floored at
// MinMinutes; consumption is proportional to the length.
type GaussianTrips struct {
	cfg  TripConfig
	mu   sync.Mutex
	dist distuv.Normal
}

// NewGaussianTrips builds the policy. A zero seed draws from the global source.
func NewGaussianTrips(cfg TripConfig, seed uint64) *GaussianTrips {
	cfg.SetDefaults()
	dist := distuv.Normal{Mu: cfg.MeanMinutes, Sigma: cfg.StddevMinutes}
	if seed != 0 {
		dist.Src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
	return &GaussianTrips{cfg: cfg, dist: dist}
}

func (g *GaussianTrips) Plan(int, time.Time) Trip {
	g.mu.Lock()
	minutes := g.dist.Rand()
	g.mu.Unlock()
	minutes = math.Max(g.cfg.MinMinutes, minutes)
	return Trip{
		Duration:    time.Duration(minutes * float64(time.Minute)),
		Consumption: minutes * g.cfg.ConsumptionPerMinute,
	}
}
