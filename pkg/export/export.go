// Package export writes run history in JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/evsim/infra/history"
)

// Formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write dispatches to WriteJSON or WriteCSV.
func Write(w io.Writer, format string, recs []history.Record) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, recs)
	case FormatCSV:
		return WriteCSV(w, recs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteJSON writes the records to w in JSON format.
func WriteJSON(w io.Writer, recs []history.Record) error {
	enc := json.NewEncoder(w)
	return enc.Encode(recs)
}

var csvHeader = []string{
	"run_id", "car_id", "kind", "id", "plug_id", "start", "end",
	"battery_before", "battery_after", "energy_kwh", "outcome", "unfinished",
}

// WriteCSV writes one row per travel and per charging period.
func WriteCSV(w io.Writer, recs []history.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		car := strconv.Itoa(r.Car.CarID)
		for _, t := range r.Car.Travels {
			row := []string{
				r.RunID, car, "travel", strconv.Itoa(t.ID), "",
				formatTime(t.StartedAt), formatTime(t.EndedAt),
				"", "", "", "",
				strconv.FormatBool(t.Unfinished),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		for _, p := range r.Car.ChargingPeriods {
			plug := ""
			if p.PlugID != 0 {
				plug = strconv.Itoa(p.PlugID)
			}
			row := []string{
				r.RunID, car, "charging", strconv.Itoa(p.ID), plug,
				formatTime(p.RequestedAt), formatTime(p.EndedAt),
				formatFloat(p.BatteryBefore), formatFloat(p.BatteryAfter), formatFloat(p.EnergyKWh),
				string(p.Outcome), strconv.FormatBool(p.Unfinished),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
