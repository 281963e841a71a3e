// Package app wires the process together and runs the top-level loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"qbitmanage/internal/config"
	"qbitmanage/internal/eventbus"
	"qbitmanage/internal/run"
	"qbitmanage/internal/schedule"
	"qbitmanage/internal/stages"
	"qbitmanage/internal/storage"
	logx "qbitmanage/pkg/logx"
	"qbitmanage/pkg/systemd"
)

// ErrInvalidLogLevel rejects a --log-level outside TRACE..ERROR.
var ErrInvalidLogLevel = errors.New("invalid log level")

// DefaultHistoryName is the history file stem inside the config directory.
const DefaultHistoryName = "qbit_manage_history"

type App struct {
	opts config.Options
	ids  []string

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	files *config.Loader
	sd    *systemd.Notifier

	loop *Loop
}

// New validates the options and builds every component. Nothing runs yet.
// Validation failures are returned before any log file is opened.
func New(opts config.Options, stop Stopper) (*App, error) {
	// The schedule is validated even in run-once mode.
	sched, err := schedule.Validate(opts.Schedule)
	if err != nil {
		return nil, err
	}
	if opts.Run {
		sched = schedule.Once()
	}
	delay, err := config.ParseStartupDelay(opts.StartupDelay)
	if err != nil {
		return nil, err
	}
	if _, ok := logx.ParseLevel(opts.LogLevel); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogLevel, opts.LogLevel)
	}
	pattern := opts.ConfigFile
	if strings.TrimSpace(pattern) == "" {
		pattern = config.DefaultConfigFile
	}
	dir := config.ResolveConfigDir(opts.ConfigDir, pattern)
	ids, err := config.ResolveConfigSet(dir, pattern)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(dir, "logs")
	logCfg := logx.Config{Level: opts.LogLevel, Console: true, ConfigDir: logDir}
	if opts.LogFile != "" {
		logCfg.File = logx.FileConfig{Enabled: true, Path: filepath.Join(logDir, opts.LogFile)}
	}
	logSvc, root := logx.New(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()
	historyPath := opts.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(dir, DefaultHistoryName)
	}
	store, err := storage.Open(storage.Config{Driver: opts.HistoryDriver, Path: historyPath}, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if store != nil {
		log.Info("history enabled", logx.String("driver", opts.HistoryDriver), logx.String("path", historyPath))
	}

	files := config.NewLoader(dir, root)
	sessions := stages.NewLoader(files, opts.Commands, bus, root)
	loader := run.LoaderFunc(func(ctx context.Context, id string) (run.Configuration, error) {
		s, err := sessions.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	engine := schedule.NewEngine(sched, root)
	sd := systemd.New()
	orch := run.NewOrchestrator(loader, engine, run.WithBus(bus), run.WithLogger(root))
	seq := run.NewSequencer(orch, logSvc, sd, root)

	log.Info("configuration set resolved",
		logx.String("dir", dir),
		logx.Strings("configs", ids),
		logx.String("schedule", sched.String()),
	)

	return &App{
		opts:  opts,
		ids:   ids,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		files: files,
		sd:    sd,
		loop: NewLoop(LoopConfig{
			Engine:       engine,
			Runner:       seq,
			IDs:          ids,
			Stop:         stop,
			StartupDelay: delay,
			Poll:         opts.PollInterval,
			Log:          root,
		}),
	}, nil
}

func (a *App) ConfigIDs() []string { return append([]string(nil), a.ids...) }

// Run blocks until the loop ends, then stops background work and closes
// the history store and log files.
func (a *App) Run(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(bg)

	if a.opts.WatchConfig && !a.opts.Run {
		g.Go(func() error {
			if err := a.files.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("config watch stopped", logx.Err(err))
			}
			return nil
		})
	}
	if a.store != nil {
		rec := newHistoryRecorder(a.store, a.bus, a.log)
		g.Go(func() error { return rec.Run(gctx) })
	}

	_ = a.sd.Ready()
	err := a.loop.Run(ctx)
	_ = a.sd.Stopping()

	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		a.log.Warn("background task failed", logx.Err(werr))
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("history close failed", logx.Err(cerr))
		}
	}
	if err != nil {
		a.log.Error("exiting", logx.Err(err))
	} else {
		a.log.Info("Exiting Qbit_manage")
	}
	_ = a.logs.Close()
	return err
}
