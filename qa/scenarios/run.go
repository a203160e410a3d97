package scenarios

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kilianp07/evsim/core/fleet"
	coremetrics "github.com/kilianp07/evsim/core/metrics"
	"github.com/kilianp07/evsim/core/simulation"
	"github.com/kilianp07/evsim/infra/metrics"
)

type collector struct {
	mu      sync.Mutex
	updates []simulation.StepUpdate
}

func (c *collector) Notify(u simulation.StepUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	oracle, err := sc.Oracle()
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	col := &collector{}
	sim, err := simulation.New(sc.Simulation.ToConfig(), simulation.Deps{
		Oracle:   oracle,
		Trips:    sc.Trip.ToPolicy(),
		Notifier: col,
		Metrics:  sink,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("simulation: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-sim.Done():
	case <-time.After(30 * time.Second):
		_ = sim.Stop(context.Background())
		t.Fatalf("scenario %s did not terminate", sc.Name)
	}
	if err := sim.Wait(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	snap, err := sim.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	exp := sc.Expected
	travels, periods := 0, 0
	for _, c := range snap.Cars {
		travels += len(c.Travels)
		for _, p := range c.ChargingPeriods {
			if p.Outcome == fleet.OutcomeNormal {
				periods++
			}
		}
		if exp.AllReady && c.Status != fleet.StatusReady {
			t.Errorf("car %d ended %s", c.ID, c.Status)
		}
	}
	if travels < exp.MinTravels {
		t.Errorf("expected at least %d travels, got %d", exp.MinTravels, travels)
	}
	if exp.MaxTravels > 0 && travels > exp.MaxTravels {
		t.Errorf("expected at most %d travels, got %d", exp.MaxTravels, travels)
	}
	if periods < exp.MinChargingPeriods {
		t.Errorf("expected at least %d charging periods, got %d", exp.MinChargingPeriods, periods)
	}
	if snap.CumulativeKWh < exp.MinEnergyKWh {
		t.Errorf("expected at least %.1f kWh, got %.1f", exp.MinEnergyKWh, snap.CumulativeKWh)
	}

	col.mu.Lock()
	for _, u := range col.updates {
		if exp.MaxPlugsInUse > 0 && u.Metrics.PlugsInUse > exp.MaxPlugsInUse {
			t.Errorf("step %d: %d plugs in use", u.Step, u.Metrics.PlugsInUse)
		}
		if exp.MaxDispatchPerStep > 0 && u.Metrics.Dispatched > exp.MaxDispatchPerStep {
			t.Errorf("step %d: %d dispatched", u.Step, u.Metrics.Dispatched)
		}
	}
	col.mu.Unlock()

	if got := counterSum(t, reg, "sim_charging_periods_total", "normal"); int(got) != periods {
		t.Errorf("prometheus counted %v normal periods, history has %d", got, periods)
	}
	if got := counterSum(t, reg, "sim_runs_total", "completed"); got != 1 {
		t.Errorf("expected one completed run, got %v", got)
	}
}

// counterSum adds the counters of family name carrying label value.
func counterSum(t *testing.T, g prometheus.Gatherer, name, value string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabelValue(m, value) {
				sum += m.GetCounter().GetValue()
			}
		}
	}
	return sum
}

func hasLabelValue(m *dto.Metric, value string) bool {
	for _, l := range m.GetLabel() {
		if l.GetValue() == value {
			return true
		}
	}
	return false
}
