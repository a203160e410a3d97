package fleet

import (
	"context"
	"time"

	"github.com/kilianp07/evsim/core/charging"
)

// Env is what a car needs from the simulation that owns it.
type Env interface {
	// Now returns the simulated datetime.
	Now() time.Time
	// Decide runs fn under the simulation epoch guard. accepting reports
	// whether new actions may still start.
	Decide(fn func(accepting bool))
	AcquirePlug(ctx context.Context, carID int) (*charging.Plug, error)
	ReleasePlug(p *charging.Plug)
	// TravelStarted and ChargingStarted are invoked without the car lock
	// held, once the transition is visible.
	TravelStarted(c *Car, t *Travel)
	ChargingStarted(c *Car, p *ChargingPeriod)
}
