// Package stats holds the per-run counters and renders the run summary.
package stats

import (
	"errors"
	"fmt"
)

// Counter identifies one RunStats counter. The numeric order is the
// documented summary order.
type Counter int

const (
	Categorized Counter = iota
	Tagged
	TaggedTrackerError
	UntaggedTrackerError
	UnregisteredRemoved
	Resumed
	Rechecked
	Deleted
	DeletedContents
	OrphanedFound
	TaggedNoHardlinks
	UntaggedNoHardlinks
	ShareLimitsUpdated
	ShareLimitsCleaned
	RecycleBinEmptied
	OrphanedDirEmptied
	Added

	numCounters
)

var counterNames = [numCounters]string{
	Categorized:          "categorized",
	Tagged:               "tagged",
	TaggedTrackerError:   "tagged_tracker_error",
	UntaggedTrackerError: "untagged_tracker_error",
	UnregisteredRemoved:  "rem_unreg",
	Resumed:              "resumed",
	Rechecked:            "rechecked",
	Deleted:              "deleted",
	DeletedContents:      "deleted_contents",
	OrphanedFound:        "orphaned",
	TaggedNoHardlinks:    "tagged_noHL",
	UntaggedNoHardlinks:  "untagged_noHL",
	ShareLimitsUpdated:   "updated_share_limits",
	ShareLimitsCleaned:   "cleaned_share_limits",
	RecycleBinEmptied:    "recycle_emptied",
	OrphanedDirEmptied:   "orphaned_emptied",
	Added:                "added",
}

// Counters returns every counter in summary order.
func Counters() []Counter {
	out := make([]Counter, numCounters)
	for i := range out {
		out[i] = Counter(i)
	}
	return out
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return fmt.Sprintf("counter(%d)", int(c))
	}
	return counterNames[c]
}

// ErrFrozen is returned when merging into stats of a finished run.
var ErrFrozen = errors.New("stats: run already finished")

// RunStats is the set of counters of a single run.
//
// The zero value is a valid, zeroed RunStats. It is owned by exactly one run
// and is not safe for concurrent use.
type RunStats struct {
	values [numCounters]int
	frozen bool
}

// Add credits n to counter c. Non-positive n is ignored so counters never decrease.
func (s *RunStats) Add(c Counter, n int) error {
	if s.frozen {
		return ErrFrozen
	}
	if c < 0 || c >= numCounters {
		return fmt.Errorf("stats: unknown counter %d", int(c))
	}
	if n <= 0 {
		return nil
	}
	s.values[c] += n
	return nil
}

// Merge credits every counter of d into s.
func (s *RunStats) Merge(d Delta) error {
	if s.frozen {
		return ErrFrozen
	}
	for c, n := range d {
		if err := s.Add(c, n); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current value of c.
func (s *RunStats) Get(c Counter) int {
	if c < 0 || c >= numCounters {
		return 0
	}
	return s.values[c]
}

// Freeze makes s read-only.
func (s *RunStats) Freeze() { s.frozen = true }

func (s *RunStats) Frozen() bool { return s.frozen }

// Total is the sum of all counters.
func (s *RunStats) Total() int {
	t := 0
	for _, v := range s.values {
		t += v
	}
	return t
}

// Map returns the counters keyed by their stable names (for notifications and storage).
func (s *RunStats) Map() map[string]int {
	m := make(map[string]int, numCounters)
	for i, v := range s.values {
		m[counterNames[i]] = v
	}
	return m
}

// Delta is a set of increments produced by one pipeline stage.
type Delta map[Counter]int
