// Package demand resolves the hourly travel demand ("affluence") that drives
// dispatch, caching it per simulated hour.
package demand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrOracleUnavailable wraps any failure to obtain affluence from an oracle.
var ErrOracleUnavailable = errors.New("demand oracle unavailable")

// Oracle returns the number of travel requests for an hour of day (0-23).
type Oracle interface {
	Affluence(ctx context.Context, hour int) (int, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, hour int) (int, error)

func (f OracleFunc) Affluence(ctx context.Context, hour int) (int, error) { return f(ctx, hour) }

// StaticOracle serves a fixed hourly profile.
type StaticOracle [24]int

// Affluence returns the profile value for hour.
func (s StaticOracle) Affluence(_ context.Context, hour int) (int, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range: %w", hour, ErrOracleUnavailable)
	}
	return s[hour], nil
}

// Constant returns a profile with the same affluence for every hour.
func Constant(n int) StaticOracle {
	var s StaticOracle
	for i := range s {
		s[i] = n
	}
	return s
}

// ParseProfile reads an hourly profile from a JSON object keyed by hour,
// e.g. {"8": 4, "17": 6}. Unknown keys are ignored.
func ParseProfile(data []byte) (StaticOracle, error) {
	var m map[string]int
	var prof StaticOracle
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = v
		}
	}
	return prof, nil
}

// LoadProfile reads a profile file written for ParseProfile.
func LoadProfile(path string) (StaticOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StaticOracle{}, fmt.Errorf("read profile: %w", err)
	}
	prof, err := ParseProfile(data)
	if err != nil {
		return prof, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return prof, nil
}
