package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/evsim/core/metrics"
)

func TestPromSink_RecordStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	m := coremetrics.StepMetrics{
		RunID:          "run",
		Step:           3,
		Cars:           5,
		Busy:           4,
		Traveling:      2,
		Charging:       1,
		WaitingForPlug: 1,
		Dispatched:     2,
		PlugsInUse:     1,
		TotalPlugKW:    7.4,
		CumulativeKWh:  12.5,
	}
	if err := sink.RecordStep(m); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := sink.RecordStep(m); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP sim_cars Number of cars per status
# TYPE sim_cars gauge
sim_cars{status="charging"} 1
sim_cars{status="ready"} 1
sim_cars{status="traveling"} 2
`
	if err := testutil.CollectAndCompare(sink.cars, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.waiting); v != 1 {
		t.Errorf("waiting gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.dispatched); v != 4 {
		t.Errorf("dispatched counter = %v", v)
	}
	if v := testutil.ToFloat64(sink.energy); v != 12.5 {
		t.Errorf("energy gauge = %v", v)
	}
}

func TestPromSink_ChargingAndRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordChargingPeriod(coremetrics.ChargingEvent{Outcome: "normal", Wait: 30 * time.Minute})
	_ = sink.RecordChargingPeriod(coremetrics.ChargingEvent{Outcome: "aborted"})
	_ = sink.RecordRun(coremetrics.RunEvent{Started: true})
	_ = sink.RecordRun(coremetrics.RunEvent{Err: "boom"})

	if v := testutil.ToFloat64(sink.periods.WithLabelValues("normal")); v != 1 {
		t.Errorf("normal periods = %v", v)
	}
	if c := testutil.CollectAndCount(sink.wait); c != 1 {
		t.Errorf("wait histogram not recorded")
	}
	if v := testutil.ToFloat64(sink.runs.WithLabelValues("failed")); v != 1 {
		t.Errorf("failed runs = %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	b, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = a.RecordStep(coremetrics.StepMetrics{Step: 7})
	if v := testutil.ToFloat64(b.step); v != 7 {
		t.Errorf("collectors not shared, step = %v", v)
	}
}
