package simulation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/metrics"
	"github.com/kilianp07/evsim/core/monitoring"
)

// The following methods make a run the fleet.Env of its cars.

func (r *run) Now() time.Time { return r.clock.Now() }

func (r *run) Decide(fn func(accepting bool)) { r.epoch.Decide(fn) }

func (r *run) AcquirePlug(ctx context.Context, carID int) (*charging.Plug, error) {
	if d := r.cfg.plugTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	r.log.Debugf("car %d acquiring a charging plug (%d waiting)", carID, r.pool.Waiting())
	return r.pool.Acquire(ctx, carID)
}

func (r *run) ReleasePlug(p *charging.Plug) {
	r.pool.Release(p)
	r.log.Debugf("plug %d released", p.ID())
}

// TravelStarted ends the travel once the clock reaches its planned end, or
// right away when in-flight work is interrupted.
func (r *run) TravelStarted(c *fleet.Car, t *fleet.Travel) {
	end := t.PlannedEnd
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer monitoring.Recover()
		_ = r.clock.WaitUntil(r.ctx, end)
		err := c.EndTravel(r.ctx)
		switch {
		case err == nil:
		case errors.Is(err, charging.ErrPlugTimeout):
			r.log.Warnf("car %d gave up waiting for a charging plug", c.ID())
		case errors.Is(err, context.Canceled):
			r.log.Debugf("car %d stopped waiting for a charging plug: %v", c.ID(), err)
		default:
			r.log.Errorf("car %d end travel: %v", c.ID(), err)
			monitoring.CaptureException(err, monitoring.RunTags(r.id, "car_id", strconv.Itoa(c.ID())))
		}
	}()
}

// ChargingStarted ends the period normally at its planned end, abnormally if
// in-flight work is interrupted first.
func (r *run) ChargingStarted(c *fleet.Car, p *fleet.ChargingPeriod) {
	end := p.PlannedEnd
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer monitoring.Recover()
		normal := r.clock.WaitUntil(r.ctx, end) == nil
		closed, err := c.EndChargingPeriod(normal)
		if err != nil {
			r.log.Errorf("car %d end charging period: %v", c.ID(), err)
			return
		}
		if rec, ok := r.sink.(metrics.ChargingRecorder); ok {
			ev := metrics.ChargingEvent{
				RunID:     r.id,
				CarID:     closed.CarID,
				PlugID:    closed.PlugID,
				Outcome:   string(closed.Outcome),
				Wait:      closed.Wait(),
				Duration:  closed.Duration(),
				EnergyKWh: closed.EnergyKWh,
				Time:      closed.EndedAt,
			}
			if err := rec.RecordChargingPeriod(ev); err != nil {
				r.log.Warnf("record charging period: %v", err)
			}
		}
	}()
}
