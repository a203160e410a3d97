package metrics

import "time"

// StepMetrics is the aggregate observed at the end of one simulation step.
type StepMetrics struct {
	RunID          string    `json:"run_id"`
	Step           int       `json:"step"`
	SimTime        time.Time `json:"sim_time"`
	Cars           int       `json:"cars"`
	Busy           int       `json:"busy"`
	Traveling      int       `json:"traveling"`
	Charging       int       `json:"charging"`
	WaitingForPlug int       `json:"waiting_for_plug"`
	Dispatched     int       `json:"dispatched"`
	Affluence      int       `json:"affluence"`
	PlugsInUse     int       `json:"plugs_in_use"`
	TotalPlugKW    float64   `json:"total_plug_kw"`
	CumulativeKWh  float64   `json:"cumulative_kwh"`
}

// StepSink records per-step aggregates for observability purposes.
type StepSink interface {
	RecordStep(m StepMetrics) error
}

// ChargingEvent describes a finished charging period.
type ChargingEvent struct {
	RunID     string
	CarID     int
	PlugID    int
	Outcome   string
	Wait      time.Duration
	Duration  time.Duration
	EnergyKWh float64
	Time      time.Time
}

// ChargingRecorder records finished charging periods.
type ChargingRecorder interface {
	RecordChargingPeriod(ev ChargingEvent) error
}

// RunEvent marks the start or end of a simulation run.
type RunEvent struct {
	RunID   string
	Started bool
	Steps   int
	Err     string
	Time    time.Time
}

// RunRecorder records run lifecycle events.
type RunRecorder interface {
	RecordRun(ev RunEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordStep(StepMetrics) error             { return nil }
func (NopSink) RecordChargingPeriod(ChargingEvent) error { return nil }
func (NopSink) RecordRun(RunEvent) error                 { return nil }
