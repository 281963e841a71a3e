package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qbitmanage/internal/app"
	"qbitmanage/internal/config"
	"qbitmanage/internal/shutdown"
)

var (
	opts  config.Options
	debug bool
	trace bool

	rootCmd = &cobra.Command{
		Use:   "qbitmanage",
		Short: "qBittorrent maintenance runner",
		Long: `qbitmanage connects to qBittorrent and runs the enabled maintenance
stages for every configuration file, once or on a schedule.

Every flag can also be set through the QBT_* environment variable named in
its help text.`,
		SilenceUsage: true,
		RunE:         runRoot,
	}
)

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&opts.Run, "run", "r", envBool("QBT_RUN", false), "run once and exit (QBT_RUN)")
	f.StringVarP(&opts.Schedule, "schedule", "s", envStr("QBT_SCHEDULE", config.DefaultSchedule), "minutes between runs or a cron expression (QBT_SCHEDULE)")
	f.StringVar(&opts.StartupDelay, "startup-delay", envStr("QBT_STARTUP_DELAY", "0"), "seconds to wait before the first run in interval mode (QBT_STARTUP_DELAY)")
	f.StringVarP(&opts.ConfigFile, "config-file", "c", envStr("QBT_CONFIG", config.DefaultConfigFile), "configuration file name; '*' matches several (QBT_CONFIG)")
	f.StringVar(&opts.ConfigDir, "config-dir", envStr("QBT_CONFIG_DIR", ""), "directory holding configuration files (QBT_CONFIG_DIR)")
	f.StringVar(&opts.LogFile, "log-file", envStr("QBT_LOGFILE", config.DefaultLogFile), "log file name inside <config-dir>/logs (QBT_LOGFILE)")
	f.StringVar(&opts.LogLevel, "log-level", envStr("QBT_LOG_LEVEL", "INFO"), "TRACE, DEBUG, INFO, WARN or ERROR (QBT_LOG_LEVEL)")
	f.BoolVar(&debug, "debug", envBool("QBT_DEBUG", false), "shorthand for --log-level DEBUG (QBT_DEBUG)")
	f.BoolVar(&trace, "trace", envBool("QBT_TRACE", false), "shorthand for --log-level TRACE (QBT_TRACE)")

	c := &opts.Commands
	f.BoolVar(&c.Recheck, "recheck", envBool("QBT_RECHECK", false), "recheck errored torrents and resume finished ones (QBT_RECHECK)")
	f.BoolVar(&c.CatUpdate, "cat-update", envBool("QBT_CAT_UPDATE", false), "categorize torrents by save path (QBT_CAT_UPDATE)")
	f.BoolVar(&c.TagUpdate, "tag-update", envBool("QBT_TAG_UPDATE", false), "tag torrents by tracker (QBT_TAG_UPDATE)")
	f.BoolVar(&c.RemUnregistered, "rem-unregistered", envBool("QBT_REM_UNREGISTERED", false), "remove unregistered torrents (QBT_REM_UNREGISTERED)")
	f.BoolVar(&c.TagTrackerError, "tag-tracker-error", envBool("QBT_TAG_TRACKER_ERROR", false), "tag torrents with failing trackers (QBT_TAG_TRACKER_ERROR)")
	f.BoolVar(&c.RemOrphaned, "rem-orphaned", envBool("QBT_REM_ORPHANED", false), "move files no torrent references (QBT_REM_ORPHANED)")
	f.BoolVar(&c.TagNoHardlinks, "tag-nohardlinks", envBool("QBT_TAG_NOHARDLINKS", false), "tag torrents without hard links (QBT_TAG_NOHARDLINKS)")
	f.BoolVar(&c.ShareLimits, "share-limits", envBool("QBT_SHARE_LIMITS", false), "apply share limits (QBT_SHARE_LIMITS)")
	f.BoolVar(&c.SkipCleanup, "skip-cleanup", envBool("QBT_SKIP_CLEANUP", false), "do not empty the recycle bin or orphaned directory (QBT_SKIP_CLEANUP)")
	f.BoolVar(&c.DryRun, "dry-run", envBool("QBT_DRY_RUN", false), "log changes without applying them (QBT_DRY_RUN)")

	f.DurationVar(&opts.PollInterval, "poll-interval", envDuration("QBT_POLL_INTERVAL", config.DefaultPollInterval), "how often the scheduler checks for a due run (QBT_POLL_INTERVAL)")
	f.StringVar(&opts.HistoryDriver, "history-driver", envStr("QBT_HISTORY_DRIVER", "file"), "run history store: file, sqlite or none (QBT_HISTORY_DRIVER)")
	f.StringVar(&opts.HistoryPath, "history-path", envStr("QBT_HISTORY_PATH", ""), "run history path; defaults to <config-dir>/qbit_manage_history (QBT_HISTORY_PATH)")
	f.BoolVar(&opts.WatchConfig, "watch-config", envBool("QBT_WATCH_CONFIG", true), "reload configuration files when they change (QBT_WATCH_CONFIG)")
}

func runRoot(cmd *cobra.Command, _ []string) error {
	switch {
	case trace:
		opts.LogLevel = "TRACE"
	case debug:
		opts.LogLevel = "DEBUG"
	}

	stop := shutdown.New()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop.Listen(ctx)

	a, err := app.New(opts, stop)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}
