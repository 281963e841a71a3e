package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize/english"

	logx "qbitmanage/pkg/logx"
)

// Job is the single pending schedule entry.
type Job struct {
	ID      uint64
	Due     time.Time
	ArmedAt time.Time
}

// Engine owns the job table: at most one pending job at any time.
type Engine struct {
	mu      sync.Mutex
	sched   Schedule
	pending *Job
	seq     uint64

	log logx.Logger
}

func NewEngine(s Schedule, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{sched: s, log: log}
}

func (e *Engine) Schedule() Schedule { return e.sched }

// Rearm replaces the pending job with one due at the next run after now.
// The next time is computed before the table is touched, so a failure keeps
// the previous entry and a success swaps it in one step.
func (e *Engine) Rearm(now time.Time) (time.Time, error) {
	if e.sched.Kind == RunOnce {
		return time.Time{}, fmt.Errorf("%w: run-once schedule cannot be rearmed", ErrFatalSchedule)
	}
	next, err := NextRun(e.sched, now)
	if err != nil {
		return time.Time{}, err
	}

	e.mu.Lock()
	e.seq++
	e.pending = &Job{ID: e.seq, Due: next, ArmedAt: now}
	e.mu.Unlock()

	e.log.Debug("schedule rearmed",
		logx.String("kind", e.sched.Kind.String()),
		logx.String("schedule", e.sched.String()),
		logx.Time("next", next),
	)
	return next, nil
}

// Advance returns the next run time appropriate to the current mode:
// zero in run-once mode (nothing is armed), otherwise the time of the
// freshly rearmed job.
func (e *Engine) Advance(now time.Time) (time.Time, error) {
	if e.sched.Kind == RunOnce {
		return time.Time{}, nil
	}
	return e.Rearm(now)
}

// Due reports whether the pending job's due time has passed.
func (e *Engine) Due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil && !now.Before(e.pending.Due)
}

func (e *Engine) Pending() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Job{}, false
	}
	return *e.pending, true
}

// Clear drops the pending job.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// Describe renders the operator-facing mode line.
func (e *Engine) Describe() string {
	switch e.sched.Kind {
	case FixedInterval:
		return "Scheduled Mode: Running every " + HumanDuration(e.sched.Every()) + "."
	case CronExpression:
		return fmt.Sprintf("Scheduled Mode: Running cron '%s'", e.sched.Expr)
	default:
		return "Run Mode: Script will exit after completion."
	}
}

// HumanDuration renders d to the minute the way operators read it
// ("1 day", "1 hour and 30 minutes"). Anything under a minute reads as
// "1 minute".
func HumanDuration(d time.Duration) string {
	mins := int(d / time.Minute)
	if mins < 1 {
		mins = 1
	}
	var parts []string
	for _, u := range []struct {
		name string
		size int
	}{{"day", 24 * 60}, {"hour", 60}, {"minute", 1}} {
		if n := mins / u.size; n > 0 {
			parts = append(parts, english.Plural(n, u.name, ""))
			mins %= u.size
		}
	}
	return english.WordSeries(parts, "and")
}

// NextRun computes the next run time without touching the pending job.
func (e *Engine) NextRun(now time.Time) (time.Time, error) {
	return NextRun(e.sched, now)
}
