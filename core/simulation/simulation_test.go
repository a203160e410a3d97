package simulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/demand"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/logger"
	"github.com/kilianp07/evsim/core/metrics"
)

var testDay = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

type updates struct {
	mu   sync.Mutex
	list []StepUpdate
}

func (u *updates) Notify(up StepUpdate) {
	u.mu.Lock()
	u.list = append(u.list, up)
	u.mu.Unlock()
}

func (u *updates) all() []StepUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]StepUpdate(nil), u.list...)
}

type memHistory struct {
	mu   sync.Mutex
	runs map[string][]fleet.History
}

func (h *memHistory) RecordHistory(_ context.Context, runID string, hist []fleet.History) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs == nil {
		h.runs = make(map[string][]fleet.History)
	}
	h.runs[runID] = hist
	return nil
}

type stepRecorder struct {
	mu      sync.Mutex
	steps   []metrics.StepMetrics
	charges []metrics.ChargingEvent
}

func (s *stepRecorder) RecordStep(m metrics.StepMetrics) error {
	s.mu.Lock()
	s.steps = append(s.steps, m)
	s.mu.Unlock()
	return nil
}

func (s *stepRecorder) RecordChargingPeriod(ev metrics.ChargingEvent) error {
	s.mu.Lock()
	s.charges = append(s.charges, ev)
	s.mu.Unlock()
	return nil
}

func countingOracle(n int, calls *atomic.Int32) demand.Oracle {
	return demand.OracleFunc(func(context.Context, int) (int, error) {
		calls.Add(1)
		return n, nil
	})
}

func newTestSim(t *testing.T, cfg Config, deps Deps) *Simulation {
	t.Helper()
	if deps.Now == nil {
		deps.Now = func() time.Time { return testDay }
	}
	s, err := New(cfg, deps)
	require.NoError(t, err)
	return s
}

func waitDone(t *testing.T, s *Simulation, d time.Duration) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Wait() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(d):
		t.Fatal("simulation did not terminate")
		return nil
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{NumberOfChargingPlugs: 0}, Deps{Oracle: demand.Constant(1)})
	assert.Error(t, err)
	_, err = New(Config{NumberOfChargingPlugs: 1}, Deps{})
	assert.Error(t, err)
}

func TestOnStepDispatchBound(t *testing.T) {
	var calls atomic.Int32
	s := newTestSim(t, Config{NumberOfCars: 5, NumberOfChargingPlugs: 1, NumberOfSteps: 10},
		Deps{Oracle: countingOracle(3, &calls), Trips: fleet.FixedTrips{Duration: 10 * time.Hour, Consumption: 1}})
	r, err := s.newRun(context.Background())
	require.NoError(t, err)

	now := r.clock.Now()
	n, aff, err := r.onStep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, aff)
	for i, c := range r.cars {
		assert.Equal(t, i < 3, c.IsBusy(), "car %d", c.ID())
	}

	// same hour: affluence used up, oracle not called again
	n, _, err = r.onStep(context.Background(), now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), calls.Load())

	// next hour: only two idle cars left
	n, _, err = r.onStep(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOnStepIdleWhenNotAccepting(t *testing.T) {
	var calls atomic.Int32
	s := newTestSim(t, Config{NumberOfCars: 2, NumberOfChargingPlugs: 1, NumberOfSteps: 0},
		Deps{Oracle: countingOracle(2, &calls)})
	r, err := s.newRun(context.Background())
	require.NoError(t, err)
	n, _, err := r.onStep(context.Background(), r.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, calls.Load())
}

func TestOnStepWrapsOracleErrors(t *testing.T) {
	s := newTestSim(t, Config{NumberOfCars: 1, NumberOfChargingPlugs: 1, NumberOfSteps: 1},
		Deps{Oracle: demand.OracleFunc(func(context.Context, int) (int, error) {
			return 0, errors.New("connection refused")
		})})
	r, err := s.newRun(context.Background())
	require.NoError(t, err)
	_, _, err = r.onStep(context.Background(), r.clock.Now())
	assert.ErrorIs(t, err, demand.ErrOracleUnavailable)
}

func TestTerminationWithoutDemand(t *testing.T) {
	var calls atomic.Int32
	ups := &updates{}
	s := newTestSim(t, Config{NumberOfCars: 3, NumberOfChargingPlugs: 1, NumberOfSteps: 4, MinutesPerSimStep: 60},
		Deps{Oracle: countingOracle(0, &calls), Notifier: ups})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, waitDone(t, s, 5*time.Second))

	assert.False(t, s.CanSimulateNewActions())
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Running)
	assert.True(t, snap.Finished)
	assert.Equal(t, 5, snap.Step)
	// first step does not advance the clock
	assert.Equal(t, Midnight(testDay).Add(3*time.Hour), snap.Datetime)
	assert.Equal(t, int32(4), calls.Load())

	list := ups.all()
	require.Len(t, list, 5)
	assert.True(t, list[4].Final)
	assert.False(t, list[4].Running)
}

func TestZeroStepBudget(t *testing.T) {
	s := newTestSim(t, Config{NumberOfCars: 2, NumberOfChargingPlugs: 1, NumberOfSteps: 0},
		Deps{Oracle: demand.Constant(5)})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, waitDone(t, s, 2*time.Second))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	for _, c := range snap.Cars {
		assert.Empty(t, c.Travels)
	}
}

func TestThreeCarsOnePlug(t *testing.T) {
	ups := &updates{}
	rec := &stepRecorder{}
	hist := &memHistory{}
	s := newTestSim(t, Config{
		NumberOfCars:          3,
		NumberOfChargingPlugs: 1,
		NumberOfSteps:         5,
		MinutesPerSimStep:     60,
		SimSamplingRate:       5,
	}, Deps{
		Oracle:   demand.Constant(2),
		Trips:    fleet.FixedTrips{Duration: 90 * time.Minute, Consumption: 9},
		Notifier: ups,
		Metrics:  rec,
		History:  hist,
	})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, waitDone(t, s, 10*time.Second))

	list := ups.all()
	require.NotEmpty(t, list)
	first := list[0]
	assert.Equal(t, 1, first.Step)
	assert.Equal(t, 2, first.Metrics.Dispatched)
	assert.Equal(t, fleet.StatusTraveling, first.Cars[0].Status)
	assert.Equal(t, fleet.StatusTraveling, first.Cars[1].Status)
	assert.Equal(t, fleet.StatusReady, first.Cars[2].Status)

	for _, u := range list {
		charging := 0
		for _, c := range u.Cars {
			if c.Status == fleet.StatusCharging {
				charging++
			}
		}
		assert.LessOrEqual(t, charging, 1, "step %d", u.Step)
		assert.LessOrEqual(t, u.Metrics.PlugsInUse, 1)
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	totalTravels := 0
	for _, c := range snap.Cars {
		assert.Equal(t, fleet.StatusReady, c.Status)
		totalTravels += len(c.Travels)
		for _, tr := range c.Travels {
			assert.False(t, tr.Unfinished)
		}
	}
	assert.GreaterOrEqual(t, totalTravels, 3)
	assert.Greater(t, snap.CumulativeKWh, 0.0)
	assert.NotEmpty(t, snap.Logs)

	hist.mu.Lock()
	assert.Len(t, hist.runs[snap.RunID], 3)
	hist.mu.Unlock()

	rec.mu.Lock()
	assert.NotEmpty(t, rec.charges)
	for _, ev := range rec.charges {
		assert.Equal(t, string(fleet.OutcomeNormal), ev.Outcome)
		assert.Equal(t, 1, ev.PlugID)
	}
	rec.mu.Unlock()
}

func TestOracleFailureSurfacesFromWait(t *testing.T) {
	oracle := demand.OracleFunc(func(_ context.Context, hour int) (int, error) {
		if hour >= 2 {
			return 0, errors.New("gateway down")
		}
		return 1, nil
	})
	s := newTestSim(t, Config{NumberOfCars: 2, NumberOfChargingPlugs: 1, NumberOfSteps: 10, MinutesPerSimStep: 60},
		Deps{Oracle: oracle, Trips: fleet.FixedTrips{Duration: 5 * time.Hour, Consumption: 1}})
	require.NoError(t, s.Start(context.Background()))
	err := waitDone(t, s, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, demand.ErrOracleUnavailable)

	snap, serr := s.Snapshot()
	require.NoError(t, serr)
	assert.NotEmpty(t, snap.Error)
	for _, c := range snap.Cars {
		assert.Equal(t, fleet.StatusReady, c.Status, "in-flight travel drained")
	}
}

func TestStopDrainsInFlightWork(t *testing.T) {
	s := newTestSim(t, Config{
		NumberOfCars:          2,
		NumberOfChargingPlugs: 1,
		NumberOfSteps:         1000,
		MinutesPerSimStep:     60,
		SimSamplingRate:       2,
	}, Deps{Oracle: demand.Constant(2), Trips: fleet.FixedTrips{Duration: 6 * time.Hour, Consumption: 1}})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		return err == nil && snap.Cars[0].Status == fleet.StatusTraveling
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.CanSimulateNewActions())
	require.NoError(t, s.Wait())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Finished)
	for _, c := range snap.Cars {
		assert.Equal(t, fleet.StatusReady, c.Status)
		for _, tr := range c.Travels {
			assert.False(t, tr.Open())
			assert.False(t, tr.EndedAt.Before(tr.PlannedEnd))
		}
	}
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)
}

func TestStopDeadlineInterruptsWork(t *testing.T) {
	s := newTestSim(t, Config{
		NumberOfCars:          1,
		NumberOfChargingPlugs: 1,
		NumberOfSteps:         1000,
		MinutesPerSimStep:     1,
		SimSamplingRate:       20,
		ShutdownTimeoutMs:     30,
	}, Deps{Oracle: demand.Constant(1), Trips: fleet.FixedTrips{Duration: 1000 * time.Hour, Consumption: 1}})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		return err == nil && snap.Cars[0].Status == fleet.StatusTraveling
	}, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	c := snap.Cars[0]
	assert.Equal(t, fleet.StatusReady, c.Status)
	require.Len(t, c.Travels, 1)
	assert.True(t, c.Travels[0].EndedAt.Before(c.Travels[0].PlannedEnd))
}

func TestPlugAcquireTimeoutAbortsPeriod(t *testing.T) {
	s := newTestSim(t, Config{
		NumberOfCars:          2,
		NumberOfChargingPlugs: 1,
		NumberOfSteps:         3,
		MinutesPerSimStep:     60,
		SimSamplingRate:       20,
		PlugAcquireTimeoutMs:  5,
	}, Deps{Oracle: demand.Constant(2), Trips: fleet.FixedTrips{Duration: time.Hour, Consumption: 9}})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, waitDone(t, s, 10*time.Second))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	outcomes := map[fleet.Outcome]int{}
	for _, c := range snap.Cars {
		for _, p := range c.ChargingPeriods {
			outcomes[p.Outcome]++
		}
	}
	assert.Equal(t, 1, outcomes[fleet.OutcomeNormal])
	assert.Equal(t, 1, outcomes[fleet.OutcomeAborted])
}

func TestSetPlugStatus(t *testing.T) {
	assert.Nil(t, (&Simulation{}).Done())

	s := newTestSim(t, Config{NumberOfCars: 1, NumberOfChargingPlugs: 2, NumberOfSteps: 1000, SimSamplingRate: 5},
		Deps{Oracle: demand.Constant(0)})
	assert.ErrorIs(t, s.SetPlugStatus(1, charging.PlugOutOfService), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SetPlugStatus(2, charging.PlugOutOfService))
	assert.ErrorIs(t, s.SetPlugStatus(9, charging.PlugOutOfService), charging.ErrUnknownPlug)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, charging.PlugOutOfService, snap.Plugs[1].Status)

	require.NoError(t, s.Stop(context.Background()))
}

func TestCancelledStartContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSim(t, Config{NumberOfCars: 1, NumberOfChargingPlugs: 1, NumberOfSteps: 100000, MinutesPerSimStep: 600, SimSamplingRate: 5},
		Deps{Oracle: demand.Constant(1), Trips: fleet.FixedTrips{Duration: 100 * time.Hour, Consumption: 1}})
	require.NoError(t, s.Start(ctx))
	cancel()
	require.NoError(t, waitDone(t, s, 2*time.Second))

	// a finished run can be replaced by a new one
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

type fieldLogger struct {
	logger.NopLogger
	mu     sync.Mutex
	fields map[string]string
}

func (l *fieldLogger) With(key, value string) logger.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fields == nil {
		l.fields = map[string]string{}
	}
	l.fields[key] = value
	return l
}

func TestRunLoggerCarriesRunID(t *testing.T) {
	log := &fieldLogger{}
	s := newTestSim(t, Config{NumberOfCars: 1, NumberOfChargingPlugs: 1, NumberOfSteps: 1},
		Deps{Oracle: demand.Constant(0), Log: log})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, waitDone(t, s, 5*time.Second))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, snap.RunID, log.fields["run_id"])
}
