package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	logx "qbitmanage/pkg/logx"
)

// Store persists run history.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit runs, newest first. An empty configID
	// matches every configuration.
	RecentRuns(ctx context.Context, configID string, limit int) ([]RunRecord, error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted driver names, "none" excluded.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open returns the history store for cfg.Driver, or (nil, nil) when the
// driver is "" or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %s or none)", ErrUnknownDriver, cfg.Driver, strings.Join(Drivers(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "history"), logx.String("driver", name)))
}
