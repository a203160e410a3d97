package simulation

import (
	"context"
	"time"

	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/metrics"
	"github.com/kilianp07/evsim/internal/eventbus"
)

// StepUpdate is pushed to clients once per completed step and once more when
// the run ends.
type StepUpdate struct {
	RunID         string              `json:"run_id"`
	Step          int                 `json:"step"`
	Datetime      time.Time           `json:"datetime"`
	Running       bool                `json:"running"`
	Final         bool                `json:"final"`
	CumulativeKWh float64             `json:"cumulative_kwh"`
	Metrics       metrics.StepMetrics `json:"metrics"`
	Cars          []fleet.Observation `json:"cars"`
	Plugs         []charging.PlugData `json:"plugs"`
	Error         string              `json:"error,omitempty"`
}

// Notifier receives step updates. Notify must not block the driver.
type Notifier interface {
	Notify(u StepUpdate)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(u StepUpdate)

func (f NotifierFunc) Notify(u StepUpdate) { f(u) }

// BusNotifier publishes updates on an event bus.
type BusNotifier struct {
	Bus *eventbus.TypedBus[StepUpdate]
}

func (b BusNotifier) Notify(u StepUpdate) {
	if b.Bus != nil {
		b.Bus.Publish(u)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(StepUpdate) {}

// HistoryRecorder persists the finalized records of a run.
type HistoryRecorder interface {
	RecordHistory(ctx context.Context, runID string, h []fleet.History) error
}
