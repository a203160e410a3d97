package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/looplab/fsm"

	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/logger"
)

const logTemplate = "car %d --- %s"

var (
	// ErrNoOpenTravel is returned by EndTravel when there is nothing to end.
	ErrNoOpenTravel = errors.New("no open travel")
	// ErrNotCharging is returned by EndChargingPeriod when no plug is held.
	ErrNotCharging = errors.New("car is not charging")
)

// Options configure a car.
type Options struct {
	// CapacityKWh is the energy represented by a full battery.
	CapacityKWh float64
	Log         logger.Logger
}

// Car is one simulated vehicle. Every read or write of status, battery, plug
// or records holds mu.
type Car struct {
	id  int
	env Env
	cap float64
	log logger.Logger

	mu      sync.Mutex
	machine *fsm.FSM
	battery float64
	travels []*Travel
	periods []*ChargingPeriod
	plug    *charging.Plug
}

// Observation is a locked snapshot of the fields the driver aggregates.
type Observation struct {
	ID              int     `json:"id"`
	Status          Status  `json:"status"`
	BatteryLevel    float64 `json:"battery_level"`
	WaitingForPlug  bool    `json:"waiting_for_plug"`
	PlugID          int     `json:"plug_id,omitempty"`
	PlugConsumption float64 `json:"plug_consumption"`
}

// Busy reports whether the car is not ready.
func (o Observation) Busy() bool { return o.Status != StatusReady }

// Data is the full export of a car.
type Data struct {
	ID              int              `json:"id"`
	Status          Status           `json:"status"`
	BatteryLevel    float64          `json:"battery_level"`
	PlugID          int              `json:"plug_id,omitempty"`
	PlugConsumption float64          `json:"plug_consumption"`
	Travels         []Travel         `json:"travels"`
	ChargingPeriods []ChargingPeriod `json:"charging_periods"`
}

// NewCar creates a ready car with a full battery.
func NewCar(id int, env Env, opts Options) *Car {
	capacity := opts.CapacityKWh
	if capacity <= 0 {
		capacity = 50
	}
	return &Car{
		id:      id,
		env:     env,
		cap:     capacity,
		log:     logger.OrNop(opts.Log),
		machine: newMachine(),
		battery: FullBattery,
	}
}

func (c *Car) ID() int { return c.id }

func (c *Car) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

// IsBusy reports whether the car is traveling or charging.
func (c *Car) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy()
}

func (c *Car) BatteryLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.battery
}

// SetBatteryLevel clamps x into the battery range. NaN and infinities are
// logged and ignored.
func (c *Car) SetBatteryLevel(x float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setBatteryLevel(x)
}

// Plug returns the plug currently held, if any.
func (c *Car) Plug() *charging.Plug {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plug
}

// TryStartTravel starts a travel planned by policy when the car is ready and
// allowed returns true. Both checks and the transition happen under the car
// lock.
func (c *Car) TryStartTravel(policy TripPolicy, allowed func() bool) (*Travel, bool) {
	c.mu.Lock()
	if c.busy() || (allowed != nil && !allowed()) {
		c.mu.Unlock()
		return nil, false
	}
	now := c.env.Now()
	trip := policy.Plan(c.id, now)
	if err := fire(c.machine, EventStartTravel); err != nil {
		c.mu.Unlock()
		c.logf("cannot start travel: %v", err)
		return nil, false
	}
	t := &Travel{
		ID:                 len(c.travels) + 1,
		CarID:              c.id,
		StartedAt:          now,
		PlannedEnd:         now.Add(trip.Duration),
		BatteryConsumption: trip.Consumption,
	}
	c.travels = append(c.travels, t)
	c.mu.Unlock()

	c.debugf("travel %d started, planned end %s", t.ID, t.PlannedEnd.Format("15:04"))
	c.env.TravelStarted(c, t)
	return t, true
}

// EndTravel applies the consumption of the open travel. Under the epoch guard
// it then either settles the car in ready or, when the battery is below the
// low threshold and new actions are accepted, queues it for a plug. Queueing
// blocks until a plug is granted or ctx ends; the car keeps traveling status
// meanwhile.
func (c *Car) EndTravel(ctx context.Context) error {
	c.mu.Lock()
	t := c.lastTravel()
	if t == nil || !t.Open() || t.Arrived() {
		c.mu.Unlock()
		return fmt.Errorf("car %d: %w", c.id, ErrNoOpenTravel)
	}
	_ = c.setBatteryLevel(c.battery - t.BatteryConsumption)
	t.ArrivedAt = c.env.Now()
	c.mu.Unlock()
	c.logf("Travel ended!")

	var period *ChargingPeriod
	c.env.Decide(func(accepting bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if accepting && c.battery < LowBatteryThreshold {
			period = &ChargingPeriod{
				ID:            len(c.periods) + 1,
				CarID:         c.id,
				RequestedAt:   c.env.Now(),
				BatteryBefore: c.battery,
				Outcome:       OutcomePending,
			}
			c.periods = append(c.periods, period)
			return
		}
		c.closeTravel(t)
	})
	if period == nil {
		return nil
	}
	c.logf("Car reached <20% battery! Waiting for an available charging plug..")
	return c.plugIn(ctx, t, period)
}

func (c *Car) plugIn(ctx context.Context, t *Travel, p *ChargingPeriod) error {
	plug, err := c.env.AcquirePlug(ctx, c.id)

	c.mu.Lock()
	now := c.env.Now()
	if err != nil {
		p.EndedAt = now
		p.BatteryAfter = c.battery
		p.Outcome = OutcomeAborted
		c.closeTravel(t)
		c.mu.Unlock()
		c.log.Warnf(logTemplate, c.id, "no charging plug obtained: "+err.Error())
		return err
	}
	c.closeTravel(t)
	if ferr := fire(c.machine, EventPlugIn); ferr != nil {
		c.mu.Unlock()
		c.env.ReleasePlug(plug)
		return fmt.Errorf("car %d: plug in: %w", c.id, ferr)
	}
	c.plug = plug
	p.PlugID = plug.ID()
	p.StartedAt = now
	p.PlannedEnd = now.Add(ChargeDuration(c.battery, c.cap, plug.PowerKW()))
	c.mu.Unlock()

	c.logf(fmt.Sprintf("Charging period started on plug %d", plug.ID()))
	c.env.ChargingStarted(c, p)
	return nil
}

// EndChargingPeriod unplugs the car. A normal end fills the battery; an
// interrupted one keeps the charge accumulated so far, prorated over the
// planned window. The plug is returned to the pool afterwards and a copy of
// the closed period is returned.
func (c *Car) EndChargingPeriod(endedNormally bool) (ChargingPeriod, error) {
	c.mu.Lock()
	p := c.activePeriod()
	if c.plug == nil || p == nil {
		c.mu.Unlock()
		return ChargingPeriod{}, fmt.Errorf("car %d: %w", c.id, ErrNotCharging)
	}
	plug := c.plug
	plug.SetEnergyConsumption(0)
	now := c.env.Now()
	if endedNormally {
		_ = c.setBatteryLevel(FullBattery)
		p.Outcome = OutcomeNormal
	} else {
		_ = c.setBatteryLevel(p.proratedLevel(now))
		p.Outcome = OutcomeInterrupted
	}
	if err := fire(c.machine, EventUnplug); err != nil {
		c.logf("unplug: " + err.Error())
	}
	c.plug = nil
	p.EndedAt = now
	p.BatteryAfter = c.battery
	p.EnergyKWh = (p.BatteryAfter - p.BatteryBefore) / FullBattery * c.cap
	closed := *p
	c.mu.Unlock()

	c.logf("Charging period ended!")
	c.env.ReleasePlug(plug)
	return closed, nil
}

// Observe returns the fields used for per-step aggregation.
func (c *Car) Observe() Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := Observation{ID: c.id, Status: c.status(), BatteryLevel: c.battery}
	if p := c.lastPeriod(); p != nil && p.Queued() {
		o.WaitingForPlug = true
	}
	if c.plug != nil {
		o.PlugID = c.plug.ID()
		o.PlugConsumption = c.plug.EnergyConsumption()
	}
	return o
}

// Data exports the car including its full history.
func (c *Car) Data() Data {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := Data{
		ID:              c.id,
		Status:          c.status(),
		BatteryLevel:    c.battery,
		Travels:         c.travelCopies(),
		ChargingPeriods: c.periodCopies(),
	}
	if c.plug != nil {
		d.PlugID = c.plug.ID()
		d.PlugConsumption = c.plug.EnergyConsumption()
	}
	return d
}

// Finalize flushes the car's records at the end of a simulation. Records that
// are still open are flagged unfinished; the car state is left untouched.
func (c *Car) Finalize() History {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.travels {
		if t.Open() {
			t.Unfinished = true
		}
	}
	for _, p := range c.periods {
		if p.Outcome == OutcomePending {
			p.Unfinished = true
		}
	}
	return History{
		CarID:           c.id,
		BatteryLevel:    c.battery,
		Travels:         c.travelCopies(),
		ChargingPeriods: c.periodCopies(),
	}
}

func (c *Car) status() Status { return Status(c.machine.Current()) }

func (c *Car) busy() bool { return c.status() != StatusReady }

func (c *Car) setBatteryLevel(x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		c.log.Warnf(logTemplate, c.id, "Invalid battery level given!")
		return fmt.Errorf("car %d: %w: %v", c.id, ErrInvalidBatteryLevel, x)
	}
	c.battery = ClampBattery(x)
	return nil
}

func (c *Car) closeTravel(t *Travel) {
	t.EndedAt = c.env.Now()
	if err := fire(c.machine, EventEndTravel); err != nil {
		c.log.Warnf(logTemplate, c.id, "end travel: "+err.Error())
	}
}

func (c *Car) lastTravel() *Travel {
	if len(c.travels) == 0 {
		return nil
	}
	return c.travels[len(c.travels)-1]
}

func (c *Car) lastPeriod() *ChargingPeriod {
	if len(c.periods) == 0 {
		return nil
	}
	return c.periods[len(c.periods)-1]
}

func (c *Car) activePeriod() *ChargingPeriod {
	if p := c.lastPeriod(); p != nil && p.Active() {
		return p
	}
	return nil
}

func (c *Car) travelCopies() []Travel {
	res := make([]Travel, len(c.travels))
	for i, t := range c.travels {
		res[i] = *t
	}
	return res
}

func (c *Car) periodCopies() []ChargingPeriod {
	res := make([]ChargingPeriod, len(c.periods))
	for i, p := range c.periods {
		res[i] = *p
	}
	return res
}

func (c *Car) logf(msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	c.log.Infof(logTemplate, c.id, msg)
}

func (c *Car) debugf(msg string, args ...any) {
	c.log.Debugf(logTemplate, c.id, fmt.Sprintf(msg, args...))
}
