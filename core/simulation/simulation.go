// Package simulation drives a fleet of cars over a simulated clock. A single
// background loop advances the clock step by step, dispatches travels
// according to the hourly demand and stops once the step budget is spent and
// no car is busy anymore.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/demand"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/logger"
	"github.com/kilianp07/evsim/core/metrics"
	"github.com/kilianp07/evsim/core/monitoring"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("simulation already running")
	// ErrNotRunning is returned when an operation needs a run.
	ErrNotRunning = errors.New("simulation not running")
)

// Deps are the collaborators of a simulation. Only Oracle is required.
type Deps struct {
	Oracle   demand.Oracle
	Trips    fleet.TripPolicy
	Notifier Notifier
	Metrics  metrics.StepSink
	History  HistoryRecorder
	Log      logger.Logger
	// Now gives the real date the clock starts from; time.Now by default.
	Now func() time.Time
}

// Simulation owns the lifecycle of successive runs.
type Simulation struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	mu  sync.Mutex
	cur *run
}

// run is the state of one simulation, from Start to the loop exit.
type run struct {
	id     string
	cfg    Config
	log    logger.Logger
	runs   *RunLog
	sink   metrics.StepSink
	policy fleet.TripPolicy
	cars   []*fleet.Car
	pool   *charging.Pool
	cache  *demand.Cache
	clock  *Clock
	epoch  *Epoch

	// ctx is cancelled to force in-flight travels and charging periods to
	// settle immediately.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	done     chan struct{}

	mu     sync.Mutex
	err    error
	kwh    float64
	last   metrics.StepMetrics
	ending bool
}

// New validates cfg and returns an idle simulation.
func New(cfg Config, deps Deps) (*Simulation, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Oracle == nil {
		return nil, errors.New("simulation: demand oracle required")
	}
	if deps.Trips == nil {
		deps.Trips = fleet.NewGaussianTrips(cfg.Trip, cfg.Seed)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopSink{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Simulation{cfg: cfg, deps: deps, log: logger.OrNop(deps.Log)}, nil
}

// Config returns the effective configuration.
func (s *Simulation) Config() Config { return s.cfg }

// Start builds a fresh roster and plug pool, sets the clock to midnight of
// the current day and launches the loop. It returns immediately. ctx bounds
// the whole run: cancelling it stops the run and interrupts in-flight work.
func (s *Simulation) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && !s.cur.finished() {
		return ErrAlreadyRunning
	}
	r, err := s.newRun(ctx)
	if err != nil {
		return err
	}
	s.cur = r
	r.log.Infof("Simulation %s started: %d cars, %d plugs, %d steps of %d min",
		r.id, s.cfg.NumberOfCars, s.cfg.NumberOfChargingPlugs, s.cfg.NumberOfSteps, s.cfg.MinutesPerSimStep)
	if rec, ok := s.deps.Metrics.(metrics.RunRecorder); ok {
		if err := rec.RecordRun(metrics.RunEvent{RunID: r.id, Started: true, Time: time.Now()}); err != nil {
			r.log.Warnf("record run start: %v", err)
		}
	}
	go s.run(r)
	return nil
}

func (s *Simulation) newRun(parent context.Context) (*run, error) {
	id := uuid.NewString()
	runs := newRunLog(runLogSize)
	log := teeLogger{next: logger.With(s.log, "run_id", id), log: runs}
	pool, err := charging.NewPool(s.cfg.NumberOfChargingPlugs, s.cfg.PlugPowerKW, log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		id:     id,
		cfg:    s.cfg,
		log:    log,
		runs:   runs,
		sink:   s.deps.Metrics,
		policy: s.deps.Trips,
		pool:   pool,
		cache:  demand.NewCache(s.deps.Oracle),
		clock:  NewClock(Midnight(s.deps.Now())),
		epoch:  NewEpoch(s.cfg.NumberOfSteps),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.cars = make([]*fleet.Car, s.cfg.NumberOfCars)
	for i := range r.cars {
		r.cars[i] = fleet.NewCar(i+1, r, fleet.Options{CapacityKWh: s.cfg.BatteryCapacityKWh, Log: log})
	}
	return r, nil
}

func (s *Simulation) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// run is the driver loop.
func (s *Simulation) run(r *run) {
	defer close(r.done)
	defer r.cancel()
	defer monitoring.Recover()
	r.log.Infof("Simulating...")
	for {
		if r.ctx.Err() != nil && r.epoch.Halt() {
			r.log.Warnf("simulation context done, no more actions accepted")
		}
		t := r.observe()
		if !r.epoch.CanAccept() && t.busy == 0 {
			break
		}
		step := r.epoch.Step()
		now := r.clock.Now()
		if step > 1 {
			now = r.clock.Advance(r.cfg.StepDuration())
		}
		r.log.Infof("( ( ( Step #%d - at: %s ) ) )", step, now.Format("2006-01-02 15:04"))
		r.log.Infof("### TOTAL PLUG CONSUMPTION: %.2f kW", t.kw)

		dispatched, affluence, err := r.onStep(r.ctx, now)
		if err != nil {
			r.fail(err)
		}
		if !r.epoch.CanAccept() {
			r.endingNotice()
		}
		r.epoch.Advance()

		after := r.observe()
		m := r.account(step, now, t.kw, dispatched, affluence, after)
		if err := s.deps.Metrics.RecordStep(m); err != nil {
			r.log.Warnf("record step metrics: %v", err)
		}
		s.deps.Notifier.Notify(r.update(m, after, false))

		if d := r.cfg.SamplingDelay(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				timer.Stop()
			}
		}
	}
	s.finish(r)
}

// finish flushes every car and publishes the final update.
func (s *Simulation) finish(r *run) {
	r.epoch.Halt()
	r.inflight.Wait()

	hist := make([]fleet.History, len(r.cars))
	for i, c := range r.cars {
		hist[i] = c.Finalize()
	}
	if s.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.deps.History.RecordHistory(ctx, r.id, hist); err != nil {
			r.log.Errorf("record history: %v", err)
		}
		cancel()
	}

	err := r.terminalErr()
	if err != nil {
		r.log.Errorf("Simulation %s ended with error: %v", r.id, err)
		monitoring.CaptureException(err, monitoring.RunTags(r.id))
	} else {
		r.log.Infof("Simulation %s ended after %d steps", r.id, r.epoch.Step()-1)
	}
	if rec, ok := s.deps.Metrics.(metrics.RunRecorder); ok {
		ev := metrics.RunEvent{RunID: r.id, Steps: r.epoch.Step() - 1, Time: time.Now()}
		if err != nil {
			ev.Err = err.Error()
		}
		if rerr := rec.RecordRun(ev); rerr != nil {
			r.log.Warnf("record run end: %v", rerr)
		}
	}
	r.mu.Lock()
	m := r.last
	r.mu.Unlock()
	s.deps.Notifier.Notify(r.update(m, r.observe(), true))
}

// OnStep dispatches travels for the simulated time now on the current run and
// returns how many cars were sent.
func (s *Simulation) OnStep(ctx context.Context, now time.Time) (int, error) {
	r := s.current()
	if r == nil {
		return 0, ErrNotRunning
	}
	n, _, err := r.onStep(ctx, now)
	return n, err
}

// onStep scans the roster in order and starts a travel on each idle car until
// the hour bucket's affluence is used up.
func (r *run) onStep(ctx context.Context, now time.Time) (int, int, error) {
	if !r.epoch.CanAccept() {
		return 0, 0, nil
	}
	key, remaining, err := r.cache.Resolve(ctx, now)
	if err != nil {
		if !errors.Is(err, demand.ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %v", demand.ErrOracleUnavailable, err)
		}
		return 0, 0, err
	}
	affluence := r.cache.Affluence(key)
	r.log.Debugf("affluence for %s: %d (%d remaining)", key, affluence, remaining)

	dispatched := 0
	for _, c := range r.cars {
		if remaining <= 0 {
			break
		}
		if _, ok := c.TryStartTravel(r.policy, r.epoch.Running); ok {
			remaining = r.cache.Take(key)
			dispatched++
		}
	}
	return dispatched, affluence, nil
}

// CanSimulateNewActions reports whether the current run is live and within
// its step budget.
func (s *Simulation) CanSimulateNewActions() bool {
	r := s.current()
	return r != nil && r.epoch.CanAccept()
}

// Stop halts dispatch and waits for in-flight work to finish. If ctx or the
// configured shutdown timeout expires first, in-flight travels and charging
// periods are interrupted and Stop waits for the loop to exit.
func (s *Simulation) Stop(ctx context.Context) error {
	r := s.current()
	if r == nil || r.finished() {
		return ErrNotRunning
	}
	if r.epoch.Halt() {
		r.log.Infof("Stopping simulation %s", r.id)
	}
	if d := s.cfg.shutdownTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.log.Warnf("shutdown deadline reached, interrupting in-flight work")
		r.cancel()
		<-r.done
	}
	return nil
}

// Wait blocks until the current run ends and returns its terminal error.
func (s *Simulation) Wait() error {
	r := s.current()
	if r == nil {
		return ErrNotRunning
	}
	<-r.done
	return r.terminalErr()
}

// Done is closed when the current run ends; nil without a run.
func (s *Simulation) Done() <-chan struct{} {
	r := s.current()
	if r == nil {
		return nil
	}
	return r.done
}

// SetPlugStatus takes a plug of the current run out of service or back.
func (s *Simulation) SetPlugStatus(id int, status charging.PlugStatus) error {
	r := s.current()
	if r == nil || r.finished() {
		return ErrNotRunning
	}
	if err := r.pool.SetStatus(id, status); err != nil {
		return err
	}
	r.log.Infof("plug %d set to %s", id, status)
	return nil
}

// Snapshot is the exported state of a run.
type Snapshot struct {
	RunID         string              `json:"run_id"`
	Step          int                 `json:"step"`
	Datetime      time.Time           `json:"datetime"`
	Running       bool                `json:"running"`
	Finished      bool                `json:"finished"`
	CumulativeKWh float64             `json:"cumulative_kwh"`
	Cars          []fleet.Data        `json:"cars"`
	Plugs         []charging.PlugData `json:"plugs"`
	Logs          []LogEntry          `json:"logs"`
	Error         string              `json:"error,omitempty"`
}

// Snapshot exports the current run. Each car is read under its own lock, so
// the roster view is not atomic.
func (s *Simulation) Snapshot() (Snapshot, error) {
	r := s.current()
	if r == nil {
		return Snapshot{}, ErrNotRunning
	}
	snap := Snapshot{
		RunID:    r.id,
		Step:     r.epoch.Step(),
		Datetime: r.clock.Now(),
		Running:  r.epoch.Running(),
		Finished: r.finished(),
		Cars:     make([]fleet.Data, len(r.cars)),
		Plugs:    r.pool.Data(),
		Logs:     r.runs.Entries(),
	}
	for i, c := range r.cars {
		snap.Cars[i] = c.Data()
	}
	r.mu.Lock()
	snap.CumulativeKWh = r.kwh
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	r.mu.Unlock()
	return snap, nil
}

type tally struct {
	busy, traveling, charging, waiting int
	kw                                 float64
	cars                               []fleet.Observation
}

// observe locks each car in turn.
func (r *run) observe() tally {
	t := tally{cars: make([]fleet.Observation, len(r.cars))}
	for i, c := range r.cars {
		o := c.Observe()
		t.cars[i] = o
		if o.Busy() {
			t.busy++
		}
		switch o.Status {
		case fleet.StatusTraveling:
			t.traveling++
		case fleet.StatusCharging:
			t.charging++
		}
		if o.WaitingForPlug {
			t.waiting++
		}
		t.kw += o.PlugConsumption
	}
	return t
}

// account adds the energy drawn during the step and builds its metrics.
func (r *run) account(step int, now time.Time, kw float64, dispatched, affluence int, after tally) metrics.StepMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kwh += kw * r.cfg.StepDuration().Hours()
	r.last = metrics.StepMetrics{
		RunID:          r.id,
		Step:           step,
		SimTime:        now,
		Cars:           len(r.cars),
		Busy:           after.busy,
		Traveling:      after.traveling,
		Charging:       after.charging,
		WaitingForPlug: after.waiting,
		Dispatched:     dispatched,
		Affluence:      affluence,
		PlugsInUse:     r.pool.InUse(),
		TotalPlugKW:    after.kw,
		CumulativeKWh:  r.kwh,
	}
	return r.last
}

func (r *run) update(m metrics.StepMetrics, t tally, final bool) StepUpdate {
	u := StepUpdate{
		RunID:         r.id,
		Step:          m.Step,
		Datetime:      r.clock.Now(),
		Running:       r.epoch.Running(),
		Final:         final,
		CumulativeKWh: m.CumulativeKWh,
		Metrics:       m,
		Cars:          t.cars,
		Plugs:         r.pool.Data(),
	}
	if err := r.terminalErr(); err != nil {
		u.Error = err.Error()
	}
	return u
}

// fail records the first terminal error and halts the run.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.log.Errorf("simulation %s: %v", r.id, err)
	r.epoch.Halt()
}

func (r *run) terminalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *run) endingNotice() {
	r.mu.Lock()
	first := !r.ending
	r.ending = true
	r.mu.Unlock()
	if first {
		r.log.Infof("-- Simulation period ended... --")
	} else {
		r.log.Debugf("-- Simulation period ended, waiting for busy cars --")
	}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
