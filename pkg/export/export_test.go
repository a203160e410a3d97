package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/infra/history"
)

func records() []history.Record {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []history.Record{{
		RunID: "r1",
		Car: fleet.History{
			CarID:   2,
			Travels: []fleet.Travel{{ID: 1, CarID: 2, StartedAt: start, EndedAt: start.Add(90 * time.Minute)}},
			ChargingPeriods: []fleet.ChargingPeriod{{
				ID: 1, CarID: 2, PlugID: 1,
				RequestedAt:   start.Add(90 * time.Minute),
				EndedAt:       start.Add(8 * time.Hour),
				BatteryBefore: 1, BatteryAfter: 10, EnergyKWh: 45,
				Outcome: fleet.OutcomeNormal,
			}},
		},
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, records()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"r1", "2", "travel", "1", "", "2024-01-01T00:00:00Z", "2024-01-01T01:30:00Z", "", "", "", "", "false"}, rows[1])
	assert.Equal(t, "charging", rows[2][2])
	assert.Equal(t, "1", rows[2][4])
	assert.Equal(t, "45", rows[2][9])
	assert.Equal(t, "normal", rows[2][10])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", records()))
	var out []history.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Car.CarID)
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", nil))
}
