package storage

import (
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by a store that has no open database.
	ErrDisabled = errors.New("storage disabled")

	ErrUnknownDriver = errors.New("unknown history driver")
)

// Config configures the run history store.
//
// Driver values:
//   - "file": JSON Lines file (<path>.runs.jsonl)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain is the number of runs kept; older runs are pruned. 0 means 1000.
	Retain int
}

const defaultRetain = 1000

func (c Config) retain() int {
	if c.Retain <= 0 {
		return defaultRetain
	}
	return c.Retain
}

// RunRecord is one finished run. Keep it compact and schema-stable.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	ConfigID    string         `json:"config"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	DurationSec int64          `json:"duration_sec"`
	NextRun     time.Time      `json:"next_run,omitempty"`
	Stats       map[string]int `json:"stats,omitempty"`
	Summary     []string       `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
}
