package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "qbitmanage/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and safe
// structured attrs for logging. Credentials (qbt.pass, telegram token) are
// never included; only whether they are set.
func SummarizeChange(oldCfg, newCfg *File) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &File{}
	}
	if newCfg == nil {
		newCfg = &File{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.QBT.Host != newCfg.QBT.Host ||
		oldCfg.QBT.User != newCfg.QBT.User ||
		oldCfg.QBT.Pass != newCfg.QBT.Pass ||
		strings.TrimSpace(oldCfg.QBT.Timeout) != strings.TrimSpace(newCfg.QBT.Timeout) {
		changed = append(changed, "qbt")
		attrs = append(attrs,
			logx.String("qbt.host", newCfg.QBT.Host),
			logx.Bool("qbt.user_set", newCfg.QBT.User != ""),
			logx.Bool("qbt.pass_set", newCfg.QBT.Pass != ""),
		)
	}

	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.Any("commands", newCfg.Commands))
	}
	if oldCfg.Settings != newCfg.Settings {
		changed = append(changed, "settings")
		attrs = append(attrs,
			logx.String("settings.tracker_error_tag", newCfg.Settings.TrackerErrorTag),
			logx.String("settings.nohardlinks_tag", newCfg.Settings.NoHardlinksTag),
		)
	}
	if oldCfg.Directory != newCfg.Directory {
		changed = append(changed, "directory")
		attrs = append(attrs, logx.String("directory.root_dir", newCfg.Directory.RootDir))
	}

	sectionsEqual := []struct {
		name  string
		a, b  any
		count int
	}{
		{"cat", oldCfg.Cat, newCfg.Cat, len(newCfg.Cat)},
		{"tracker", oldCfg.Tracker, newCfg.Tracker, len(newCfg.Tracker)},
		{"nohardlinks", oldCfg.NoHardlinks, newCfg.NoHardlinks, len(newCfg.NoHardlinks)},
		{"orphaned", oldCfg.Orphaned, newCfg.Orphaned, len(newCfg.Orphaned.ExcludePatterns)},
		{"unregistered", oldCfg.Unregistered, newCfg.Unregistered, len(newCfg.Unregistered.Messages)},
	}
	for _, s := range sectionsEqual {
		if canonicalHash(s.a) != canonicalHash(s.b) {
			changed = append(changed, s.name)
			attrs = append(attrs, logx.Int(s.name+".entries", s.count))
		}
	}

	if !reflect.DeepEqual(oldCfg.ShareLimits, newCfg.ShareLimits) {
		changed = append(changed, "share_limits")
		attrs = append(attrs, logx.Bool("share_limits.present", newCfg.ShareLimits != nil))
	}
	if !reflect.DeepEqual(oldCfg.RecycleBin, newCfg.RecycleBin) {
		changed = append(changed, "recyclebin")
		attrs = append(attrs, logx.Bool("recyclebin.enabled", newCfg.RecycleBin.IsEnabled()))
		if d := newCfg.RecycleBin.EmptyAfterDays; d != nil {
			attrs = append(attrs, logx.Int("recyclebin.empty_after_days", *d))
		}
	}

	// Notifications (never log token or webhook URLs; they usually embed secrets)
	if canonicalHash(oldCfg.Notifications) != canonicalHash(newCfg.Notifications) {
		changed = append(changed, "notifications")
		n := newCfg.Notifications
		if n == nil {
			n = &NotificationsConfig{}
		}
		attrs = append(attrs,
			logx.Int("notifications.webhooks", len(n.Webhooks)),
			logx.Bool("notifications.telegram_set", n.Telegram != nil && n.Telegram.Token != ""),
			logx.Int("notifications.rate_per_sec", n.RatePerSec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHash hashes the JSON encoding of v; map keys are sorted by
// encoding/json so ordering changes don't matter.
func canonicalHash(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
