package run

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"qbitmanage/internal/eventbus"
	"qbitmanage/internal/notifier"
	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/schedule"
	"qbitmanage/internal/stats"
	logx "qbitmanage/pkg/logx"
)

// Orchestrator executes one run for one configuration. Runs never overlap;
// callers serialize Start.
type Orchestrator struct {
	loader   ConfigLoader
	sched    Scheduler
	notifier notifier.Notifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Orchestrator)

// WithNotifier sets the notifier used when a configuration has none of its own.
func WithNotifier(n notifier.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

func WithBus(b eventbus.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

func WithLogger(l logx.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(loader ConfigLoader, sched Scheduler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader: loader,
		sched:  sched,
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = eventbus.Nop()
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.log = o.log.With(logx.String("comp", "run"))
	return o
}

// Start runs the pipeline for configID and returns the finalized run.
//
// Configuration and stage failures are logged and contained. The only error
// returned is a fatal schedule error, reported after the run was summarized
// and notified.
func (o *Orchestrator) Start(ctx context.Context, configID string) (RunContext, error) {
	rc := RunContext{RunID: o.newID(), ConfigID: configID, Start: o.now()}
	st := &stats.RunStats{}
	log := o.log.With(logx.String("config", configID), logx.String("run_id", rc.RunID))
	o.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Time: rc.Start, Data: rc.ConfigID})
	log.Info("run.started")

	labels := stats.DefaultLabels()
	var target notifier.Notifier

	cfg, err := o.loader.Load(ctx, configID)
	if err != nil {
		rc.Err = err
		log.Error("config.failed", logx.Err(err), logx.Stack(logx.CaptureStack()))
	} else {
		defer func() {
			if err := cfg.Close(); err != nil {
				log.Debug("config.close failed", logx.Err(err))
			}
		}()
		labels = cfg.Labels()
		target = cfg.Notifier()
		o.runStages(ctx, cfg, st, log)
	}

	rc.End = o.now()
	rc.Duration = rc.End.Sub(rc.Start).Truncate(time.Second)
	next, fatal := o.sched.Advance(rc.End)
	if fatal != nil {
		log.Error("schedule.fatal", logx.Err(fatal))
	} else {
		rc.NextRun = next
	}

	st.Freeze()
	rc.Stats = st
	rc.Summary = st.Summary(labels)
	rc.Body = o.body(rc)
	for _, line := range rc.Summary {
		log.Info(line)
	}
	log.Info("run.finished",
		logx.Duration("dur", rc.Duration),
		logx.Int("total", st.Total()),
		logx.Bool("config_failed", rc.Failed()),
	)

	if target == nil {
		target = o.notifier
	}
	o.notify(ctx, target, rc, log)
	o.bus.Publish(eventbus.Event{Type: eventbus.RunFinished, Time: rc.End, Data: rc})
	return rc, fatal
}

func (o *Orchestrator) runStages(ctx context.Context, cfg Configuration, st *stats.RunStats, log logx.Logger) {
	for _, kind := range pipeline.Order() {
		if !cfg.Enabled(kind) {
			continue
		}
		stage := cfg.Stage(kind)
		if stage == nil {
			log.Warn("stage.missing", logx.String("stage", kind.String()))
			continue
		}
		started := o.now()
		res, err := runStage(ctx, stage)
		// Counts for actions taken before a failure are still credited.
		if merr := st.Merge(pipeline.Credit(kind, res)); merr != nil {
			log.Error("stats.merge failed", logx.String("stage", kind.String()), logx.Err(merr))
		}
		if err != nil {
			log.Error("stage.failed", logx.String("stage", kind.String()), logx.Err(err))
			o.bus.Publish(eventbus.Event{Type: eventbus.StageFailed, Data: StageFailure{Stage: kind.String(), Error: err.Error()}})
			continue
		}
		log.Debug("stage.done", logx.String("stage", kind.String()), logx.Duration("dur", o.now().Sub(started)))
	}
}

// StageFailure is the payload of stage.failed events.
type StageFailure struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// runStage converts a stage panic into an error so the remaining stages
// still run.
func runStage(ctx context.Context, s pipeline.Stage) (res pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = pipeline.Result{}
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.Run(ctx)
}

func (o *Orchestrator) notify(ctx context.Context, n notifier.Notifier, rc RunContext, log logx.Logger) {
	if n == nil {
		return
	}
	r := notifier.Report{
		Event:    "run_end",
		RunID:    rc.RunID,
		ConfigID: rc.ConfigID,
		Start:    rc.Start,
		End:      rc.End,
		Duration: rc.Duration,
		Seconds:  int64(rc.Duration / time.Second),
		Stats:    rc.Stats.Map(),
		Summary:  rc.Summary,
		Body:     rc.Body,
	}
	if !rc.NextRun.IsZero() {
		next := rc.NextRun
		r.NextRun = &next
	}
	if rc.Err != nil {
		r.Error = rc.Err.Error()
	}
	if err := n.Notify(ctx, r); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		log.Warn("notifier.failed", logx.Err(err))
	}
}

// body renders the operator-facing end-of-run text.
func (o *Orchestrator) body(rc RunContext) string {
	lines := append([]string{"Finished Run"}, rc.Summary...)
	lines = append(lines, "Run Time: "+formatRunTime(rc.Duration))
	if !rc.NextRun.IsZero() {
		lines = append(lines, nextRunLine(o.now(), rc.NextRun))
	}
	return strings.Join(lines, "\n")
}

// formatRunTime renders d as H:MM:SS.
func formatRunTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}

func nextRunLine(now, next time.Time) string {
	until := time.Duration(math.Ceil(next.Sub(now).Minutes())) * time.Minute
	return fmt.Sprintf("Current Time: %s | %s until the next run at %s",
		now.Format("03:04 PM"),
		schedule.HumanDuration(until),
		next.Format("2006-01-02 03:04 PM"),
	)
}
