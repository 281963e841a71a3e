// Package run executes maintenance runs: one configuration at a time
// (Orchestrator) and a whole configuration set in order (Sequencer).
package run

import (
	"context"
	"time"

	"qbitmanage/internal/notifier"
	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/stats"
)

// Configuration is a loaded configuration, valid for one run.
type Configuration interface {
	// Enabled reports whether the stage runs. Disabled stages are never invoked.
	Enabled(kind pipeline.StageKind) bool
	Stage(kind pipeline.StageKind) pipeline.Stage
	Labels() stats.Labels
	// Notifier may return nil; the orchestrator's default is used then.
	Notifier() notifier.Notifier
	Close() error
}

type ConfigLoader interface {
	Load(ctx context.Context, id string) (Configuration, error)
}

// LoaderFunc adapts a function to ConfigLoader.
type LoaderFunc func(ctx context.Context, id string) (Configuration, error)

func (f LoaderFunc) Load(ctx context.Context, id string) (Configuration, error) { return f(ctx, id) }

// Scheduler computes the next run after a run finished. *schedule.Engine
// implements it; a zero time means run-once mode.
type Scheduler interface {
	Advance(now time.Time) (time.Time, error)
}

// RunContext is the outcome of one run.
type RunContext struct {
	RunID    string
	ConfigID string
	Start    time.Time
	End      time.Time
	// Duration has whole-second granularity.
	Duration time.Duration
	// NextRun is zero in run-once mode.
	NextRun time.Time
	Stats   *stats.RunStats
	Summary []string
	Body    string
	// Err is the configuration acquisition failure, if any.
	Err error
}

func (rc RunContext) Failed() bool { return rc.Err != nil }
