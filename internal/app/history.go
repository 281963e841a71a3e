package app

import (
	"context"
	"time"

	"qbitmanage/internal/eventbus"
	"qbitmanage/internal/run"
	"qbitmanage/internal/storage"
	logx "qbitmanage/pkg/logx"
)

// historyRecorder persists every finished run from the event bus.
type historyRecorder struct {
	store  storage.Store
	events <-chan eventbus.Event
	unsub  func()
	log    logx.Logger
}

// newHistoryRecorder subscribes immediately so no run published before Run
// starts is missed.
func newHistoryRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *historyRecorder {
	events, unsub := bus.Subscribe(64, eventbus.RunFinished)
	return &historyRecorder{store: store, events: events, unsub: unsub, log: log.With(logx.String("comp", "history"))}
}

// Run records until ctx ends, then drains what is already queued.
func (h *historyRecorder) Run(ctx context.Context) error {
	defer h.unsub()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-h.events:
					if !ok {
						return nil
					}
					h.handle(e)
				default:
					return nil
				}
			}
		case e, ok := <-h.events:
			if !ok {
				return nil
			}
			h.handle(e)
		}
	}
}

func (h *historyRecorder) handle(e eventbus.Event) {
	h.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	if e.Type != eventbus.RunFinished {
		return
	}
	rc, ok := e.Data.(run.RunContext)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.AppendRun(ctx, recordOf(rc)); err != nil {
		h.log.Warn("history append failed", logx.String("run_id", rc.RunID), logx.Err(err))
	}
}

func recordOf(rc run.RunContext) storage.RunRecord {
	r := storage.RunRecord{
		RunID:       rc.RunID,
		ConfigID:    rc.ConfigID,
		Start:       rc.Start,
		End:         rc.End,
		DurationSec: int64(rc.Duration / time.Second),
		NextRun:     rc.NextRun,
		Summary:     rc.Summary,
	}
	if rc.Stats != nil {
		r.Stats = rc.Stats.Map()
	}
	if rc.Err != nil {
		r.Error = rc.Err.Error()
	}
	return r
}
