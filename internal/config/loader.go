package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "qbitmanage/pkg/logx"
)

// Loader reads configuration files from one directory and caches the
// decoded result. A cached entry is reused while the file's size and
// modification time are unchanged; Watch drops entries as soon as the file
// changes on disk.
type Loader struct {
	dir string
	log logx.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	file    *File
	hash    uint64
	size    int64
	modTime time.Time
}

func NewLoader(dir string, log logx.Logger) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loader{
		dir:   dir,
		log:   log.With(logx.String("comp", "config")),
		cache: map[string]*cacheEntry{},
	}
}

func (l *Loader) Dir() string { return l.dir }

// Path returns the on-disk path of a configuration identifier.
func (l *Loader) Path(id string) string {
	if filepath.IsAbs(id) {
		return id
	}
	return filepath.Join(l.dir, id)
}

// Parse decodes and validates one file. Unknown keys are rejected.
func Parse(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(path, b)
}

func decode(path string, b []byte) (*File, error) {
	format := FormatOf(path)
	jb, err := toJSON(format, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	var cfg File
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s (%s): %w", filepath.Base(path), format, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%s (%s): unexpected data after the configuration object", filepath.Base(path), format)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// Load returns the decoded configuration for id. The returned File is shared
// with the cache and must be treated as read-only.
func (l *Loader) Load(ctx context.Context, id string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path(id)
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", id, err)
	}

	l.mu.Lock()
	e := l.cache[id]
	l.mu.Unlock()
	if e != nil && e.size == st.Size() && e.modTime.Equal(st.ModTime()) {
		return e.file, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", id, err)
	}
	cfg, err := decode(path, b)
	if err != nil {
		return nil, err
	}
	h := hashBytes(b)

	l.mu.Lock()
	prev := l.cache[id]
	l.cache[id] = &cacheEntry{file: cfg, hash: h, size: st.Size(), modTime: st.ModTime()}
	l.mu.Unlock()

	switch {
	case prev == nil:
		l.log.Debug("config loaded", logx.String("config", id), logx.String("path", path))
	case prev.hash != h:
		changed, attrs := SummarizeChange(prev.file, cfg)
		fields := append([]logx.Field{
			logx.String("config", id),
			logx.Strings("changed", changed),
		}, attrs...)
		l.log.Info("config reloaded", fields...)
	}
	return cfg, nil
}

// Invalidate drops the cached entry of id.
func (l *Loader) Invalidate(id string) {
	l.mu.Lock()
	_, ok := l.cache[id]
	delete(l.cache, id)
	l.mu.Unlock()
	if ok {
		l.log.Debug("config cache invalidated", logx.String("config", id))
	}
}

func (l *Loader) cached(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[id]
	return ok
}

func (l *Loader) cachedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	return ids
}
