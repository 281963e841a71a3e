package notifier

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled means no sender is configured; callers treat it as a no-op.
var ErrDisabled = errors.New("notifier disabled")

// Report is the end-of-run payload.
type Report struct {
	Event    string         `json:"event"`
	RunID    string         `json:"run_id"`
	ConfigID string         `json:"config"`
	Start    time.Time      `json:"start_time"`
	End      time.Time      `json:"end_time"`
	Duration time.Duration  `json:"-"`
	Seconds  int64          `json:"run_time_seconds"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
	Stats    map[string]int `json:"stats"`
	Summary  []string       `json:"summary"`
	Body     string         `json:"body"`
	Error    string         `json:"error,omitempty"`
}

// Notifier receives end-of-run reports.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, r Report) error

func (f Func) Notify(ctx context.Context, r Report) error { return f(ctx, r) }

// Nop drops every report and returns ErrDisabled.
type Nop struct{}

func (Nop) Notify(context.Context, Report) error { return ErrDisabled }

// Sender is one delivery channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, r Report) error
}

// Config controls delivery.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

// Event is the payload of notifier bus events.
type Event struct {
	Sender   string    `json:"sender"`
	ConfigID string    `json:"config"`
	RunID    string    `json:"run_id"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
