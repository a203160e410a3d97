// Package history persists the finalized car records of each simulation run.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/evsim/core/fleet"
)

// Record is the history of one car at the end of one run.
type Record struct {
	RunID      string        `json:"run_id"`
	RecordedAt time.Time     `json:"recorded_at"`
	Car        fleet.History `json:"car"`
}

// Query filters records. Zero values match everything.
type Query struct {
	RunID string
	CarID int
	Start time.Time
	End   time.Time
}

func (q Query) match(r Record) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.CarID != 0 && r.Car.CarID != q.CarID {
		return false
	}
	if !q.Start.IsZero() && r.RecordedAt.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.RecordedAt.After(q.End) {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, recs ...Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and tunes the history backend.
type Config struct {
	// Backend is one of "jsonl", "sqlite" or "none".
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "data/history.db"
		default:
			c.Path = "data/history.jsonl"
		}
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	switch c.Backend {
	case "", "none", "jsonl", "sqlite":
		return nil
	default:
		return fmt.Errorf("unknown history backend %q", c.Backend)
	}
}

// NewStore opens the configured backend. It returns nil when history is
// disabled.
func NewStore(cfg Config) (Store, error) {
	cfg.SetDefaults()
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "jsonl":
		return NewJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// Recorder adapts a Store to the simulation's history hook.
type Recorder struct {
	Store Store
	Now   func() time.Time
}

// RecordHistory stores one record per car.
func (r Recorder) RecordHistory(ctx context.Context, runID string, hs []fleet.History) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	ts := now().UTC()
	recs := make([]Record, len(hs))
	for i, h := range hs {
		recs[i] = Record{RunID: runID, RecordedAt: ts, Car: h}
	}
	if err := r.Store.Append(ctx, recs...); err != nil {
		return fmt.Errorf("record history of run %s: %w", runID, err)
	}
	return nil
}
