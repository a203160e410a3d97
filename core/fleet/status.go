package fleet

import (
	"context"

	"github.com/looplab/fsm"
)

// Status is the lifecycle state of a car.
type Status string

const (
	StatusReady     Status = "ready"
	StatusTraveling Status = "traveling"
	StatusCharging  Status = "charging"
)

// Transition events of the car machine.
const (
	EventStartTravel = "start_travel"
	EventEndTravel   = "end_travel"
	EventPlugIn      = "plug_in"
	EventUnplug      = "unplug"
)

// newMachine builds the car state machine. There is no direct
// traveling -> charging edge: a car plugging in passes through ready.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusReady),
		fsm.Events{
			{Name: EventStartTravel, Src: []string{string(StatusReady)}, Dst: string(StatusTraveling)},
			{Name: EventEndTravel, Src: []string{string(StatusTraveling)}, Dst: string(StatusReady)},
			{Name: EventPlugIn, Src: []string{string(StatusReady)}, Dst: string(StatusCharging)},
			{Name: EventUnplug, Src: []string{string(StatusCharging)}, Dst: string(StatusReady)},
		},
		fsm.Callbacks{},
	)
}

func fire(m *fsm.FSM, event string) error {
	return m.Event(context.Background(), event)
}
