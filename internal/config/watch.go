package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "qbitmanage/pkg/logx"
)

const (
	watchSettle     = 250 * time.Millisecond
	watchRetryFirst = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

var errWatcherClosed = errors.New("fsnotify watcher closed")

// Watch drops cache entries whose files change on disk, once writes have
// settled. A failed watcher is recreated with growing delays and the whole
// cache is dropped, since changes may have been missed meanwhile. Watch
// returns nil when ctx ends.
func (l *Loader) Watch(ctx context.Context) error {
	failures := 0
	for {
		started, err := l.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			failures = 0
		}
		failures++
		delay := retryDelay(failures)
		l.log.Warn("config watch restarting", logx.String("dir", l.dir), logx.Err(err), logx.Duration("in", delay))
		for _, id := range l.cachedIDs() {
			l.Invalidate(id)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func retryDelay(failures int) time.Duration {
	d := watchRetryFirst
	for i := 1; i < failures && d < watchRetryMax; i++ {
		d *= 2
	}
	return min(d, watchRetryMax)
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends. started
// reports whether the directory was registered.
func (l *Loader) watchOnce(ctx context.Context) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return false, err
	}
	l.log.Debug("config watch started", logx.String("dir", l.dir))

	// id -> time of the last event; flushed once quiet for watchSettle
	dirty := map[string]time.Time{}
	tick := time.NewTicker(watchSettle / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errWatcherClosed
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if id := filepath.Base(ev.Name); l.cached(id) {
				dirty[id] = time.Now()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errWatcherClosed
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				l.log.Warn("config watch overflow; dropping cache", logx.String("dir", l.dir))
				for _, id := range l.cachedIDs() {
					dirty[id] = time.Now()
				}
				continue
			}
			l.log.Warn("config watch error", logx.String("dir", l.dir), logx.Err(werr))
		case now := <-tick.C:
			for id, at := range dirty {
				if now.Sub(at) >= watchSettle {
					delete(dirty, id)
					l.Invalidate(id)
				}
			}
		}
	}
}
