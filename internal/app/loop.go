package app

import (
	"context"
	"fmt"
	"time"

	"qbitmanage/internal/run"
	"qbitmanage/internal/schedule"
	logx "qbitmanage/pkg/logx"
)

// Runner executes one pass over the configuration set. *run.Sequencer
// implements it.
type Runner interface {
	Run(ctx context.Context, ids []string) ([]run.RunContext, error)
}

// Stopper signals a cooperative stop request. *shutdown.Controller
// implements it.
type Stopper interface {
	Done() <-chan struct{}
}

// Loop is the top-level state machine: one pass and exit in run-once mode,
// otherwise a poll loop that starts a pass whenever the schedule is due.
type Loop struct {
	engine       *schedule.Engine
	runner       Runner
	ids          []string
	stop         Stopper
	startupDelay time.Duration
	poll         time.Duration
	now          func() time.Time
	log          logx.Logger
}

type LoopConfig struct {
	Engine       *schedule.Engine
	Runner       Runner
	IDs          []string
	Stop         Stopper
	StartupDelay time.Duration
	// Poll is the tick between due and shutdown checks. Defaults to 60s.
	Poll time.Duration
	Now  func() time.Time
	Log  logx.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		engine:       cfg.Engine,
		runner:       cfg.Runner,
		ids:          cfg.IDs,
		stop:         cfg.Stop,
		startupDelay: cfg.StartupDelay,
		poll:         cfg.Poll,
		now:          cfg.Now,
		log:          cfg.Log,
	}
	if l.poll <= 0 {
		l.poll = 60 * time.Second
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "loop"))
	return l
}

// Run blocks until the loop terminates. It returns nil after a run-once pass
// or a stop request, and the fatal schedule error otherwise.
//
// ctx only bounds waiting. Passes run on a context detached from it, so a
// stop request never interrupts a pass in progress.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info(l.engine.Describe())
	if l.engine.Schedule().Kind == schedule.RunOnce {
		return l.pass(ctx)
	}

	switch l.engine.Schedule().Kind {
	case schedule.FixedInterval:
		if l.startupDelay > 0 {
			l.log.Info(fmt.Sprintf("Startup Delay: Initial Run will start after %d seconds", int(l.startupDelay/time.Second)))
			t := time.NewTimer(l.startupDelay)
			select {
			case <-t.C:
			case <-l.stopped():
				t.Stop()
				return nil
			case <-ctx.Done():
				t.Stop()
				return nil
			}
		}
		if err := l.pass(ctx); err != nil {
			return err
		}
	case schedule.CronExpression:
		next, err := l.engine.Rearm(l.now())
		if err != nil {
			return err
		}
		l.log.Info("next run scheduled", logx.Time("at", next))
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopped():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if l.isStopped() {
			return nil
		}
		if !l.engine.Due(l.now()) {
			continue
		}
		if err := l.pass(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) pass(ctx context.Context) error {
	_, err := l.runner.Run(context.WithoutCancel(ctx), l.ids)
	if err != nil {
		l.log.Error("fatal schedule error; stopping", logx.Err(err))
		return err
	}
	if job, ok := l.engine.Pending(); ok {
		l.log.Info("next run scheduled", logx.Time("at", job.Due))
	}
	return nil
}

func (l *Loop) stopped() <-chan struct{} {
	if l.stop == nil {
		return nil
	}
	return l.stop.Done()
}

func (l *Loop) isStopped() bool {
	select {
	case <-l.stopped():
		return true
	default:
		return false
	}
}
