package fleet

import "time"

// Travel is one trip of a car. BatteryConsumption is fixed when the trip is
// planned. A travel is open until the car leaves the traveling status.
type Travel struct {
	ID                 int       `json:"id"`
	CarID              int       `json:"car_id"`
	StartedAt          time.Time `json:"started_at"`
	PlannedEnd         time.Time `json:"planned_end"`
	ArrivedAt          time.Time `json:"arrived_at"`
	EndedAt            time.Time `json:"ended_at"`
	BatteryConsumption float64   `json:"battery_consumption"`
	Unfinished         bool      `json:"unfinished,omitempty"`
}

// Open reports whether the car is still traveling on this trip.
func (t Travel) Open() bool { return t.EndedAt.IsZero() }

// Arrived reports whether the trip's consumption has been applied.
func (t Travel) Arrived() bool { return !t.ArrivedAt.IsZero() }

// Outcome is how a charging period finished.
type Outcome string

const (
	OutcomePending     Outcome = "pending"
	OutcomeNormal      Outcome = "normal"
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeAborted means no plug was ever obtained.
	OutcomeAborted Outcome = "aborted"
)

// ChargingPeriod records a charging request from queueing to unplugging.
type ChargingPeriod struct {
	ID            int       `json:"id"`
	CarID         int       `json:"car_id"`
	PlugID        int       `json:"plug_id,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	StartedAt     time.Time `json:"started_at"`
	PlannedEnd    time.Time `json:"planned_end"`
	EndedAt       time.Time `json:"ended_at"`
	BatteryBefore float64   `json:"battery_before"`
	BatteryAfter  float64   `json:"battery_after"`
	EnergyKWh     float64   `json:"energy_kwh"`
	Outcome       Outcome   `json:"outcome"`
	Unfinished    bool      `json:"unfinished,omitempty"`
}

// Queued reports whether the period is waiting for a plug.
func (p ChargingPeriod) Queued() bool {
	return p.Outcome == OutcomePending && p.StartedAt.IsZero()
}

// Active reports whether the car is plugged in for this period.
func (p ChargingPeriod) Active() bool {
	return p.Outcome == OutcomePending && !p.StartedAt.IsZero()
}

// Wait is the time spent queueing for a plug.
func (p ChargingPeriod) Wait() time.Duration {
	if p.StartedAt.IsZero() {
		if p.EndedAt.IsZero() {
			return 0
		}
		return p.EndedAt.Sub(p.RequestedAt)
	}
	return p.StartedAt.Sub(p.RequestedAt)
}

// Duration is the time spent plugged in.
func (p ChargingPeriod) Duration() time.Duration {
	if p.StartedAt.IsZero() || p.EndedAt.IsZero() {
		return 0
	}
	return p.EndedAt.Sub(p.StartedAt)
}

// proratedLevel is the level reached at now when charging linearly from
// BatteryBefore to full over the planned window.
func (p ChargingPeriod) proratedLevel(now time.Time) float64 {
	total := p.PlannedEnd.Sub(p.StartedAt)
	if total <= 0 {
		return FullBattery
	}
	frac := float64(now.Sub(p.StartedAt)) / float64(total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return p.BatteryBefore + (FullBattery-p.BatteryBefore)*frac
}

// ChargeDuration is the time needed to bring level to full with a plug of
// powerKW on a battery of capacityKWh.
func ChargeDuration(level, capacityKWh, powerKW float64) time.Duration {
	if powerKW <= 0 || level >= FullBattery {
		return 0
	}
	kwh := (FullBattery - ClampBattery(level)) / FullBattery * capacityKWh
	return time.Duration(kwh / powerKW * float64(time.Hour))
}

// History is the finalized record set of one car.
type History struct {
	CarID           int              `json:"car_id"`
	BatteryLevel    float64          `json:"battery_level"`
	Travels         []Travel         `json:"travels"`
	ChargingPeriods []ChargingPeriod `json:"charging_periods"`
}
