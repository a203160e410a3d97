package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := New("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestDebugGatedByFlag(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	quiet := NewZerologLogger("sim", Options{Out: &buf})
	quiet.Debugf("hidden")
	assert.Empty(t, buf.String())

	verbose := NewZerologLogger("sim", Options{Out: &buf, Debug: true})
	verbose.Debugw("shown", map[string]any{"car": 3})
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sim", line["component"])
	assert.Equal(t, "shown", line["message"])
	assert.EqualValues(t, 3, line["car"])
}

func TestWithAddsField(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	l := NewZerologLogger("sim", Options{Out: &buf}).With("run_id", "abc")
	l.Infof("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc", line["run_id"])
}

func TestLevelAndFormatOptions(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	l := NewZerologLogger("sim", Options{Out: &buf, Debug: true, Level: "warn"})
	l.Infof("hidden")
	assert.Empty(t, buf.String())
	l.Warnf("kept")
	assert.Contains(t, buf.String(), "kept")

	buf.Reset()
	c := NewZerologLogger("sim", Options{Out: &buf, Format: "console"})
	c.Infof("pretty")
	assert.Contains(t, buf.String(), "pretty")
	assert.NotContains(t, buf.String(), `"message"`)
}
