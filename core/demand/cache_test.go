package demand

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingOracle(n int, calls *atomic.Int32) Oracle {
	return OracleFunc(func(_ context.Context, hour int) (int, error) {
		calls.Add(1)
		return n, nil
	})
}

func TestBucketKey(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 59, 0, 0, time.UTC)
	assert.Equal(t, "2024030709", BucketKey(ts))
	assert.Equal(t, BucketKey(ts), BucketKey(ts.Add(-59*time.Minute)))
	assert.NotEqual(t, BucketKey(ts), BucketKey(ts.Add(time.Minute)))
}

func TestResolveCallsOracleOncePerHour(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(countingOracle(3, &calls))
	ctx := context.Background()
	base := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)

	key, rem, err := c.Resolve(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 3, rem)
	assert.Equal(t, 2, c.Take(key))

	key2, rem, err := c.Resolve(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, key, key2)
	assert.Equal(t, 2, rem)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 3, c.Affluence(key))

	_, _, err = c.Resolve(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Calls())
	assert.Equal(t, 2, c.Len())
}

func TestResolveConcurrentProbes(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(countingOracle(5, &calls))
	ts := time.Date(2024, 3, 7, 14, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Resolve(context.Background(), ts)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestTakeNeverNegative(t *testing.T) {
	c := NewCache(Constant(1))
	key, _, err := c.Resolve(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, c.Take(key))
	assert.Equal(t, 0, c.Take(key))
	assert.Equal(t, 0, c.Take("unknown"))
}

func TestNegativeAffluenceIsZero(t *testing.T) {
	c := NewCache(OracleFunc(func(context.Context, int) (int, error) { return -4, nil }))
	_, rem, err := c.Resolve(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, rem)
}

func TestResolveFailureIsRetried(t *testing.T) {
	fail := true
	c := NewCache(OracleFunc(func(context.Context, int) (int, error) {
		if fail {
			return 0, ErrOracleUnavailable
		}
		return 2, nil
	}))
	ts := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	_, _, err := c.Resolve(context.Background(), ts)
	assert.True(t, errors.Is(err, ErrOracleUnavailable))
	assert.Zero(t, c.Len())

	fail = false
	_, rem, err := c.Resolve(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, 2, rem)
}

func TestStaticOracle(t *testing.T) {
	prof, err := ParseProfile([]byte(`{"8":4,"17":6,"x":1,"30":2}`))
	require.NoError(t, err)
	n, err := prof.Affluence(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 4, prof[8])
	assert.Zero(t, prof[0])

	_, err = prof.Affluence(context.Background(), 24)
	assert.ErrorIs(t, err, ErrOracleUnavailable)

	_, err = ParseProfile([]byte(`invalid`))
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"0":1,"23":9}`), 0o600))
	prof, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, prof[23])

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
