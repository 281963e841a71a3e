package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

type Config struct {
	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR. Blank means INFO.
	Level   string
	Console bool
	File    FileConfig

	// ConfigDir is where UseConfig opens "<name>.log". Blank means the
	// directory of File.Path.
	ConfigDir string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process sinks: console, the main log file and at most one
// per-configuration file. Every line goes to all open sinks.
type Service struct {
	level atomic.Int32
	zl    zerolog.Logger

	mu      sync.RWMutex
	console io.Writer
	main    *os.File
	dir     string
	cfgName string
	cfgFile *os.File
}

// New opens the configured sinks. A file that cannot be opened is reported
// on stderr and skipped; logging never fails the caller.
func New(cfg Config) (*Service, Logger) {
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{dir: strings.TrimSpace(cfg.ConfigDir)}
	s.level.Store(int32(levelOr(cfg.Level, LevelInfo)))
	if cfg.Console {
		s.console = zerolog.ConsoleWriter{
			Out:          os.Stdout,
			TimeFormat:   consoleTimeFormat,
			FormatCaller: func(i any) string { c, _ := i.(string); return c },
		}
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "qbit_manage.log"
		}
		s.main = openSink(path)
		if s.dir == "" {
			s.dir = filepath.Dir(path)
		}
	}
	if s.dir == "" {
		s.dir = "."
	}
	if s.console == nil && s.main == nil {
		s.console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	}
	s.zl = zerolog.New(s).With().Timestamp().Logger()
	return s, Logger{svc: s}
}

func (s *Service) event(level Level) *zerolog.Event {
	if level < Level(s.level.Load()) {
		return nil
	}
	e := s.zl.WithLevel(level)
	if name := s.ActiveConfig(); name != "" {
		e.Str("config", name)
	}
	return e
}

// SetLevel changes the level of every Logger derived from s.
func (s *Service) SetLevel(level Level) { s.level.Store(int32(level)) }

// Write implements io.Writer for the underlying zerolog logger.
func (s *Service) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var firstErr error
	put := func(w io.Writer) {
		if _, err := w.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.console != nil {
		put(s.console)
	}
	if s.main != nil {
		put(s.main)
	}
	if s.cfgFile != nil {
		put(s.cfgFile)
	}
	return len(p), firstErr
}

// UseConfig tees output into "<dir>/<name>.log" until the next call. An
// empty name closes the per-configuration file.
func (s *Service) UseConfig(name string) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.cfgName {
		return
	}
	if s.cfgFile != nil {
		_ = s.cfgFile.Close()
		s.cfgFile = nil
	}
	s.cfgName = name
	if name != "" {
		s.cfgFile = openSink(filepath.Join(s.dir, name+".log"))
	}
}

// ActiveConfig returns the name set by the last UseConfig.
func (s *Service) ActiveConfig() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfgName
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, f := range []*os.File{s.cfgFile, s.main} {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.cfgFile, s.main, s.cfgName = nil, nil, ""
	return err
}

func openSink(path string) *os.File {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		return nil
	}
	return f
}
