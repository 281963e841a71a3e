// Package shutdown turns termination signals into a cooperative stop request.
//
// The first request marks the process as shutting down; the scheduler loop
// and the startup delay observe Done and return. A run already in progress is
// not interrupted. A second request forces an immediate exit.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logx "qbitmanage/pkg/logx"
)

// Reason is used for structured shutdown tracing.
type Reason string

const (
	ReasonUnknown   Reason = "unknown"
	ReasonSIGINT    Reason = "sigint"
	ReasonSIGTERM   Reason = "sigterm"
	ReasonRunOnce   Reason = "run_once_complete"
	ReasonFatal     Reason = "fatal_error"
	ReasonRequested Reason = "requested"
)

// ForceExitCode is the exit status used when a second request arrives.
const ForceExitCode = 130

type Controller struct {
	mu       sync.Mutex
	done     chan struct{}
	reason   Reason
	requests int

	forceExit func(code int)
	log       logx.Logger
}

type Option func(*Controller)

// WithForceExit replaces os.Exit for the second request.
func WithForceExit(fn func(code int)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.forceExit = fn
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func New(opts ...Option) *Controller {
	c := &Controller{
		done:      make(chan struct{}),
		forceExit: os.Exit,
		log:       logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request asks the process to stop. Safe to call from any goroutine.
func (c *Controller) Request(reason Reason) {
	c.mu.Lock()
	c.requests++
	n := c.requests
	if n == 1 {
		c.reason = reason
		close(c.done)
	}
	force := c.forceExit
	c.mu.Unlock()

	if n == 1 {
		c.log.Info("shutdown requested", logx.String("reason", string(reason)))
		return
	}
	if n == 2 {
		c.log.Warn("second shutdown request, exiting now", logx.String("reason", string(reason)))
		force(ForceExitCode)
	}
}

// Done is closed after the first request.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Requested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		return ReasonUnknown
	}
	return c.reason
}

// Context returns a context cancelled by the first request.
func (c *Controller) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Listen forwards SIGINT and SIGTERM to Request until ctx ends.
func (c *Controller) Listen(ctx context.Context) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				c.Request(reasonFor(sig))
			}
		}
	}()
}

func reasonFor(sig os.Signal) Reason {
	switch sig {
	case os.Interrupt:
		return ReasonSIGINT
	case syscall.SIGTERM:
		return ReasonSIGTERM
	default:
		return ReasonUnknown
	}
}
