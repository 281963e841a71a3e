package run

import (
	"context"
	"fmt"

	"qbitmanage/internal/config"
	logx "qbitmanage/pkg/logx"
)

// LogRouter switches the per-configuration log sink. *logx.Service
// implements it.
type LogRouter interface {
	UseConfig(name string)
}

// StatusReporter publishes a one-line status. *systemd.Notifier implements it.
type StatusReporter interface {
	Status(msg string) error
}

// Sequencer runs a configuration set strictly in order on the caller's
// goroutine.
type Sequencer struct {
	orch   *Orchestrator
	logs   LogRouter
	status StatusReporter
	log    logx.Logger
}

func NewSequencer(orch *Orchestrator, logs LogRouter, status StatusReporter, log logx.Logger) *Sequencer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sequencer{orch: orch, logs: logs, status: status, log: log.With(logx.String("comp", "sequencer"))}
}

// Run starts one run per identifier. A failing configuration never stops
// the sequence; a fatal schedule error does, and is returned with the runs
// completed so far.
func (s *Sequencer) Run(ctx context.Context, ids []string) ([]RunContext, error) {
	out := make([]RunContext, 0, len(ids))
	defer s.useConfig("")

	for i, id := range ids {
		s.useConfig(config.BaseName(id))
		s.setStatus(fmt.Sprintf("Running %s (%d/%d)", id, i+1, len(ids)))

		rc, err := s.orch.Start(ctx, id)
		out = append(out, rc)
		if err != nil {
			s.setStatus("Fatal schedule error")
			return out, err
		}
	}

	failed := 0
	for _, rc := range out {
		if rc.Failed() {
			failed++
		}
	}
	s.log.Info("sequence.finished", logx.Int("configs", len(out)), logx.Int("failed", failed))
	s.setStatus(fmt.Sprintf("Idle: %d configuration(s) processed, %d failed", len(out), failed))
	return out, nil
}

func (s *Sequencer) useConfig(name string) {
	if s.logs != nil {
		s.logs.UseConfig(name)
	}
}

func (s *Sequencer) setStatus(msg string) {
	if s.status == nil {
		return
	}
	if err := s.status.Status(msg); err != nil {
		s.log.Debug("status update failed", logx.Err(err))
	}
}
