package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/evsim/core/metrics"
	"github.com/kilianp07/evsim/infra/logger"
)

// InfluxSink writes simulation steps to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.StepSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client resources.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordStep writes the step aggregate stamped with the simulated time.
func (s *InfluxSink) RecordStep(m coremetrics.StepMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sim_step").
		AddTag("run_id", m.RunID).
		AddTag("component", "simulation").
		AddField("step", m.Step).
		AddField("busy", m.Busy).
		AddField("traveling", m.Traveling).
		AddField("charging", m.Charging).
		AddField("waiting_for_plug", m.WaitingForPlug).
		AddField("dispatched", m.Dispatched).
		AddField("affluence", m.Affluence).
		AddField("plugs_in_use", m.PlugsInUse).
		AddField("plug_power_kw", round3(m.TotalPlugKW)).
		AddField("energy_kwh", round3(m.CumulativeKWh)).
		SetTime(m.SimTime)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordChargingPeriod writes a finished charging period.
func (s *InfluxSink) RecordChargingPeriod(ev coremetrics.ChargingEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charging_period").
		AddTag("run_id", ev.RunID).
		AddTag("car_id", strconv.Itoa(ev.CarID)).
		AddTag("plug_id", strconv.Itoa(ev.PlugID)).
		AddTag("outcome", ev.Outcome).
		AddField("wait_minutes", round3(ev.Wait.Minutes())).
		AddField("duration_minutes", round3(ev.Duration.Minutes())).
		AddField("energy_kwh", round3(ev.EnergyKWh)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRun writes run lifecycle events.
func (s *InfluxSink) RecordRun(ev coremetrics.RunEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sim_run").
		AddTag("run_id", ev.RunID).
		AddTag("started", strconv.FormatBool(ev.Started)).
		AddField("steps", ev.Steps)
	if ev.Err != "" {
		p = p.AddField("error", ev.Err)
	}
	return s.writeAPI.WritePoint(ctx, p.SetTime(ev.Time))
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
