package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	errs    []error
	tags    []map[string]string
	panics  []any
	flushes int
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recorder) Recover()            {}
func (r *recorder) RecoverValue(v any)  { r.panics = append(r.panics, v) }
func (r *recorder) Flush(time.Duration) { r.flushes++ }

func TestCaptureException(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(nil)

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), RunTags("r1", "car_id", "3", "dangling"))

	require.Len(t, rec.errs, 1)
	assert.Equal(t, map[string]string{"run_id": "r1", "car_id": "3"}, rec.tags[0])
}

func TestRecoverReportsAndRepanics(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(nil)

	assert.PanicsWithValue(t, "kaboom", func() {
		defer Recover()
		panic("kaboom")
	})
	assert.Equal(t, []any{"kaboom"}, rec.panics)
	assert.Equal(t, 1, rec.flushes)
}

func TestInitNilRestoresNop(t *testing.T) {
	Init(nil)
	_, ok := get().(NopMonitor)
	assert.True(t, ok)
}
