// Package report renders an HTML chart page of a simulation run.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/evsim/core/metrics"
)

// ErrEmpty is returned by Render before any step was recorded.
var ErrEmpty = errors.New("report: no step recorded")

// Report is a metrics.StepSink that keeps every step of a run.
type Report struct {
	mu    sync.Mutex
	steps []metrics.StepMetrics
}

func New() *Report { return &Report{} }

// RecordStep implements metrics.StepSink.
func (r *Report) RecordStep(m metrics.StepMetrics) error {
	r.mu.Lock()
	r.steps = append(r.steps, m)
	r.mu.Unlock()
	return nil
}

// Len returns the number of recorded steps.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Render writes the chart page to w.
func (r *Report) Render(w io.Writer) error {
	r.mu.Lock()
	steps := append([]metrics.StepMetrics(nil), r.steps...)
	r.mu.Unlock()
	if len(steps) == 0 {
		return ErrEmpty
	}

	x := make([]string, len(steps))
	var busy, traveling, charging, waiting, plugs, dispatched, power, energy []opts.LineData
	for i, s := range steps {
		x[i] = s.SimTime.Format("Jan 2 15:04")
		busy = append(busy, opts.LineData{Value: s.Busy})
		traveling = append(traveling, opts.LineData{Value: s.Traveling})
		charging = append(charging, opts.LineData{Value: s.Charging})
		waiting = append(waiting, opts.LineData{Value: s.WaitingForPlug})
		plugs = append(plugs, opts.LineData{Value: s.PlugsInUse})
		dispatched = append(dispatched, opts.LineData{Value: s.Dispatched})
		power = append(power, opts.LineData{Value: s.TotalPlugKW})
		energy = append(energy, opts.LineData{Value: s.CumulativeKWh})
	}
	runID := steps[0].RunID

	fleet := charts.NewLine()
	fleet.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Fleet", Subtitle: "run " + runID}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Simulated time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Cars"}),
	)
	fleet.SetXAxis(x).
		AddSeries("busy", busy).
		AddSeries("traveling", traveling).
		AddSeries("charging", charging).
		AddSeries("waiting for plug", waiting).
		AddSeries("dispatched", dispatched)

	plugChart := charts.NewLine()
	plugChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Charging plugs"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Simulated time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Plugs / kW"}),
	)
	plugChart.SetXAxis(x).
		AddSeries("plugs in use", plugs).
		AddSeries("plug power (kW)", power)

	energyChart := charts.NewLine()
	energyChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Energy delivered"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Simulated time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "kWh"}),
	)
	energyChart.SetXAxis(x).AddSeries("cumulative kWh", energy)

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("evsim run %s", runID)
	page.AddCharts(fleet, plugChart, energyChart)
	return page.Render(w)
}

// WriteFile renders the report into path.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
