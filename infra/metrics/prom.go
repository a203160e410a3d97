package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evsim/core/metrics"
)

// PromSink exposes simulation steps as Prometheus metrics.
type PromSink struct {
	step       prometheus.Gauge
	cars       *prometheus.GaugeVec
	waiting    prometheus.Gauge
	plugsInUse prometheus.Gauge
	plugPower  prometheus.Gauge
	energy     prometheus.Gauge
	dispatched prometheus.Counter
	periods    *prometheus.CounterVec
	wait       prometheus.Histogram
	runs       *prometheus.CounterVec
}

// NewPromSink registers simulation metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PromSink{}
	if s.step, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_step",
		Help: "Current simulation step",
	})); err != nil {
		return nil, err
	}
	if s.cars, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_cars",
		Help: "Number of cars per status",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if s.waiting, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_cars_waiting_for_plug",
		Help: "Cars blocked waiting for a charging plug",
	})); err != nil {
		return nil, err
	}
	if s.plugsInUse, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_plugs_in_use",
		Help: "Occupied charging plugs",
	})); err != nil {
		return nil, err
	}
	if s.plugPower, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_plug_power_kw",
		Help: "Total instantaneous draw of all plugs",
	})); err != nil {
		return nil, err
	}
	if s.energy, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_energy_kwh",
		Help: "Energy drawn by the plugs since the run started",
	})); err != nil {
		return nil, err
	}
	if s.dispatched, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_travels_dispatched_total",
		Help: "Travels started by the dispatcher",
	})); err != nil {
		return nil, err
	}
	if s.periods, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_charging_periods_total",
		Help: "Finished charging periods by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if s.wait, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_plug_wait_minutes",
		Help:    "Simulated time spent waiting for a plug",
		Buckets: []float64{0, 15, 30, 60, 120, 240, 480},
	})); err != nil {
		return nil, err
	}
	if s.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_runs_total",
		Help: "Simulation runs by lifecycle event",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordStep sets the gauges from the step aggregate.
func (s *PromSink) RecordStep(m coremetrics.StepMetrics) error {
	s.step.Set(float64(m.Step))
	s.cars.WithLabelValues("ready").Set(float64(m.Cars - m.Busy))
	s.cars.WithLabelValues("traveling").Set(float64(m.Traveling))
	s.cars.WithLabelValues("charging").Set(float64(m.Charging))
	s.waiting.Set(float64(m.WaitingForPlug))
	s.plugsInUse.Set(float64(m.PlugsInUse))
	s.plugPower.Set(m.TotalPlugKW)
	s.energy.Set(m.CumulativeKWh)
	s.dispatched.Add(float64(m.Dispatched))
	return nil
}

// RecordChargingPeriod counts the period and observes its plug wait.
func (s *PromSink) RecordChargingPeriod(ev coremetrics.ChargingEvent) error {
	s.periods.WithLabelValues(ev.Outcome).Inc()
	s.wait.Observe(ev.Wait.Minutes())
	return nil
}

// RecordRun counts run starts and ends.
func (s *PromSink) RecordRun(ev coremetrics.RunEvent) error {
	switch {
	case ev.Started:
		s.runs.WithLabelValues("started").Inc()
	case ev.Err != "":
		s.runs.WithLabelValues("failed").Inc()
	default:
		s.runs.WithLabelValues("completed").Inc()
	}
	return nil
}
