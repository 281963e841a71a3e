package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule means the raw string is neither a positive number of
	// minutes nor a valid 5-field cron expression.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrFatalSchedule means a next run time could not be computed for an
	// already validated schedule. The scheduler cannot continue.
	ErrFatalSchedule = errors.New("fatal schedule error")
)

// Kind describes the normalized kind of a schedule.
type Kind int

const (
	RunOnce Kind = iota
	FixedInterval
	CronExpression
)

func (k Kind) String() string {
	switch k {
	case RunOnce:
		return "once"
	case FixedInterval:
		return "interval"
	case CronExpression:
		return "cron"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Schedule is an immutable, validated schedule.
type Schedule struct {
	Kind    Kind
	Minutes int    // FixedInterval only
	Expr    string // CronExpression only
}

// Once returns the run-once schedule.
func Once() Schedule { return Schedule{Kind: RunOnce} }

// Every returns the interval of a FixedInterval schedule.
func (s Schedule) Every() time.Duration {
	return time.Duration(s.Minutes) * time.Minute
}

func (s Schedule) String() string {
	switch s.Kind {
	case FixedInterval:
		return strconv.Itoa(s.Minutes)
	case CronExpression:
		return s.Expr
	default:
		return "once"
	}
}

// Standard 5-field grammar: minute hour day-of-month month day-of-week.
// robfig/cron ORs day-of-month and day-of-week when both are restricted.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates raw without consulting the cache.
//
// Supported forms:
//   - positive integer: run every N minutes ("1440")
//   - cron: "*/30 * * * *", "0 3 * * 1-5"
func Parse(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: schedule required", ErrInvalidSchedule)
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return Schedule{}, fmt.Errorf("%w: interval must be at least 1 minute, got %d", ErrInvalidSchedule, n)
		}
		return Schedule{Kind: FixedInterval, Minutes: n}, nil
	}
	if _, err := cronParser.Parse(s); err != nil {
		return Schedule{}, fmt.Errorf(
			"%w: %q is neither a number of minutes nor a valid cron expression: %v",
			ErrInvalidSchedule, raw, err,
		)
	}
	return Schedule{Kind: CronExpression, Expr: s}, nil
}

// Validator caches validation results; the same raw value is validated
// repeatedly over the process lifetime.
type Validator struct {
	mu    sync.Mutex
	cache map[string]validation
}

type validation struct {
	sched Schedule
	err   error
}

const maxCachedSchedules = 64

func NewValidator() *Validator {
	return &Validator{cache: map[string]validation{}}
}

func (v *Validator) Validate(raw string) (Schedule, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.cache[raw]; ok {
		return r.sched, r.err
	}
	s, err := Parse(raw)
	if len(v.cache) >= maxCachedSchedules {
		v.cache = map[string]validation{}
	}
	v.cache[raw] = validation{sched: s, err: err}
	return s, err
}

func (v *Validator) cached(raw string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.cache[raw]
	return ok
}

var defaultValidator = NewValidator()

// Validate parses raw using the process-wide cache.
func Validate(raw string) (Schedule, error) { return defaultValidator.Validate(raw) }

// IsCron reports whether raw validates as a cron expression.
func IsCron(raw string) bool {
	s, err := Validate(raw)
	return err == nil && s.Kind == CronExpression
}

// NextRun computes the next run time of s relative to now.
//
//   - FixedInterval: now + minutes
//   - CronExpression: next occurrence strictly after now
//   - RunOnce: now
func NextRun(s Schedule, now time.Time) (time.Time, error) {
	switch s.Kind {
	case RunOnce:
		return now, nil
	case FixedInterval:
		if s.Minutes < 1 {
			return time.Time{}, fmt.Errorf("%w: interval of %d minutes", ErrFatalSchedule, s.Minutes)
		}
		return now.Add(s.Every()), nil
	case CronExpression:
		cs, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: cron %q: %v", ErrFatalSchedule, s.Expr, err)
		}
		next := cs.Next(now)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: cron %q has no upcoming occurrence", ErrFatalSchedule, s.Expr)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported schedule kind %s", ErrFatalSchedule, s.Kind)
	}
}
