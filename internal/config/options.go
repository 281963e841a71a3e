package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoConfigs means a glob config pattern matched nothing.
	ErrNoConfigs = errors.New("no configuration files found")

	// ErrInvalidStartupDelay means the startup delay is not a non-negative integer.
	ErrInvalidStartupDelay = errors.New("invalid startup delay")
)

// Commands toggles pipeline stages. Process-wide values from the CLI are
// OR-ed with the values of each configuration file.
type Commands struct {
	CatUpdate       bool `json:"cat_update"`
	TagUpdate       bool `json:"tag_update"`
	RemUnregistered bool `json:"rem_unregistered"`
	TagTrackerError bool `json:"tag_tracker_error"`
	Recheck         bool `json:"recheck"`
	TagNoHardlinks  bool `json:"tag_nohardlinks"`
	ShareLimits     bool `json:"share_limits"`
	RemOrphaned     bool `json:"rem_orphaned"`
	SkipCleanup     bool `json:"skip_cleanup"`
	DryRun          bool `json:"dry_run"`
}

// Merge returns the field-wise OR of c and o.
func (c Commands) Merge(o Commands) Commands {
	return Commands{
		CatUpdate:       c.CatUpdate || o.CatUpdate,
		TagUpdate:       c.TagUpdate || o.TagUpdate,
		RemUnregistered: c.RemUnregistered || o.RemUnregistered,
		TagTrackerError: c.TagTrackerError || o.TagTrackerError,
		Recheck:         c.Recheck || o.Recheck,
		TagNoHardlinks:  c.TagNoHardlinks || o.TagNoHardlinks,
		ShareLimits:     c.ShareLimits || o.ShareLimits,
		RemOrphaned:     c.RemOrphaned || o.RemOrphaned,
		SkipCleanup:     c.SkipCleanup || o.SkipCleanup,
		DryRun:          c.DryRun || o.DryRun,
	}
}

// Options is the static process configuration. The CLI fills it field by
// field; nothing reads it from disk.
type Options struct {
	Run          bool
	Schedule     string
	StartupDelay string
	ConfigFile   string
	ConfigDir    string

	LogFile  string
	LogLevel string

	Commands Commands

	PollInterval  time.Duration
	HistoryDriver string
	HistoryPath   string
	WatchConfig   bool
}

const (
	DefaultSchedule     = "1440"
	DefaultConfigFile   = "config.yml"
	DefaultLogFile      = "qbit_manage.log"
	DefaultPollInterval = 60 * time.Second
)

// ParseStartupDelay parses the startup delay in whole seconds.
func ParseStartupDelay(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number of seconds", ErrInvalidStartupDelay, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidStartupDelay, n)
	}
	return time.Duration(n) * time.Second, nil
}
