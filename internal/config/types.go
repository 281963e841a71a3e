package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// File is one configuration file: a qBittorrent instance plus the rules the
// pipeline applies to it.
type File struct {
	QBT          QBTConfig              `json:"qbt"`
	Commands     Commands               `json:"commands"`
	Settings     Settings               `json:"settings"`
	Directory    DirectoryConfig        `json:"directory"`
	Cat          map[string]string      `json:"cat,omitempty"`
	Tracker      map[string]TrackerRule `json:"tracker,omitempty"`
	NoHardlinks  []string               `json:"nohardlinks,omitempty"`
	ShareLimits  *ShareLimitsConfig     `json:"share_limits,omitempty"`
	Orphaned     OrphanedConfig         `json:"orphaned"`
	RecycleBin   RecycleBinConfig       `json:"recyclebin"`
	Unregistered UnregisteredConfig     `json:"unregistered"`

	Notifications *NotificationsConfig `json:"notifications,omitempty"`
}

type QBTConfig struct {
	Host string `json:"host"`
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`
	// Timeout is a Go duration string (e.g. "30s"). Defaults to 30s.
	Timeout string `json:"timeout,omitempty"`
}

type Settings struct {
	TrackerErrorTag string `json:"tracker_error_tag,omitempty"`
	NoHardlinksTag  string `json:"nohardlinks_tag,omitempty"`
	// ShareLimitsTag marks torrents whose share limits were applied.
	ShareLimitsTag string `json:"share_limits_tag,omitempty"`
}

// DirectoryConfig maps qBittorrent save paths onto the local filesystem.
//
// RemoteDir is the path qBittorrent reports; RootDir is where the same
// data is visible to this process. They differ when qBittorrent runs in
// another container.
type DirectoryConfig struct {
	RootDir     string `json:"root_dir,omitempty"`
	RemoteDir   string `json:"remote_dir,omitempty"`
	RecycleBin  string `json:"recycle_bin,omitempty"`
	OrphanedDir string `json:"orphaned_dir,omitempty"`
}

// TrackerRule tags torrents whose tracker URL contains the rule key.
type TrackerRule struct {
	Tag StringList `json:"tag"`
}

type ShareLimitsConfig struct {
	MaxRatio float64 `json:"max_ratio,omitempty"`
	// MaxSeedingTime is a Go duration string (e.g. "720h").
	MaxSeedingTime string `json:"max_seeding_time,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Cleanup        bool     `json:"cleanup,omitempty"`
	DeleteContents bool     `json:"delete_contents,omitempty"`
}

// EmptyAfterDays fields: omitted means files are kept forever, 0 means they
// are removed on the next run.

type OrphanedConfig struct {
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	EmptyAfterDays  *int     `json:"empty_after_days,omitempty"`
}

type RecycleBinConfig struct {
	// Enabled is a pointer so an omitted value defaults to true.
	Enabled        *bool `json:"enabled,omitempty"`
	EmptyAfterDays *int  `json:"empty_after_days,omitempty"`
}

func (r RecycleBinConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

type UnregisteredConfig struct {
	Messages []string `json:"messages,omitempty"`
}

type NotificationsConfig struct {
	Webhooks   []string `json:"webhooks,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
	// Timeout is a Go duration string applied to each delivery.
	Timeout  string          `json:"timeout,omitempty"`
	Telegram *TelegramNotify `json:"telegram,omitempty"`
}

type TelegramNotify struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

var DefaultUnregisteredMessages = []string{
	"unregistered",
	"not registered",
	"torrent not found",
	"torrent is not found",
	"infohash not found",
	"torrent has been deleted",
	"trumped",
	"dupe",
}

const (
	DefaultQBTTimeout     = 30 * time.Second
	DefaultShareLimitsTag = "~share_limit"
)

// applyDefaults fills omitted optional fields.
func (f *File) applyDefaults() {
	f.QBT.Host = strings.TrimRight(strings.TrimSpace(f.QBT.Host), "/")
	if f.Settings.TrackerErrorTag == "" {
		f.Settings.TrackerErrorTag = "issue"
	}
	if f.Settings.NoHardlinksTag == "" {
		f.Settings.NoHardlinksTag = "noHL"
	}
	if f.Settings.ShareLimitsTag == "" {
		f.Settings.ShareLimitsTag = DefaultShareLimitsTag
	}
	d := &f.Directory
	if d.RemoteDir == "" {
		d.RemoteDir = d.RootDir
	}
	if d.RootDir != "" {
		if d.RecycleBin == "" {
			d.RecycleBin = filepath.Join(d.RootDir, ".RecycleBin")
		}
		if d.OrphanedDir == "" {
			d.OrphanedDir = filepath.Join(d.RootDir, "orphaned_data")
		}
	}
	if len(f.Unregistered.Messages) == 0 {
		f.Unregistered.Messages = append([]string(nil), DefaultUnregisteredMessages...)
	}
}

// Validate checks the fields every run depends on.
func (f *File) Validate() error {
	var errs []error
	if f.QBT.Host == "" {
		errs = append(errs, errors.New("qbt.host: required"))
	} else if !strings.HasPrefix(f.QBT.Host, "http://") && !strings.HasPrefix(f.QBT.Host, "https://") {
		errs = append(errs, fmt.Errorf("qbt.host: %q must start with http:// or https://", f.QBT.Host))
	}
	if _, err := ParseDurationField("qbt.timeout", f.QBT.Timeout); err != nil {
		errs = append(errs, err)
	}
	if sl := f.ShareLimits; sl != nil {
		if sl.MaxRatio < 0 {
			errs = append(errs, errors.New("share_limits.max_ratio: must be >= 0"))
		}
		if _, err := ParseDurationField("share_limits.max_seeding_time", sl.MaxSeedingTime); err != nil {
			errs = append(errs, err)
		}
	}
	if d := f.Orphaned.EmptyAfterDays; d != nil && *d < 0 {
		errs = append(errs, errors.New("orphaned.empty_after_days: must be >= 0"))
	}
	if d := f.RecycleBin.EmptyAfterDays; d != nil && *d < 0 {
		errs = append(errs, errors.New("recyclebin.empty_after_days: must be >= 0"))
	}
	for _, p := range f.Orphaned.ExcludePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("orphaned.exclude_patterns: %q: %w", p, err))
		}
	}
	if n := f.Notifications; n != nil {
		if _, err := ParseDurationField("notifications.timeout", n.Timeout); err != nil {
			errs = append(errs, err)
		}
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifications.rate_per_sec: must be >= 0"))
		}
		if t := n.Telegram; t != nil && strings.TrimSpace(t.Token) != "" && t.ChatID == 0 {
			errs = append(errs, errors.New("notifications.telegram.chat_id: required when token is set"))
		}
	}
	return errors.Join(errs...)
}

// QBTTimeout returns the client timeout with its default applied.
func (f *File) QBTTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("qbt.timeout", f.QBT.Timeout, DefaultQBTTimeout)
	return d
}
