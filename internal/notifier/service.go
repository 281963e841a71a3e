package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"qbitmanage/internal/eventbus"
	logx "qbitmanage/pkg/logx"
)

// Service fans reports out to senders with rate limiting and retry.
// It is safe for concurrent use.
type Service struct {
	senders []Sender
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, senders ...Sender) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = withDefaults(cfg)
	return &Service{
		senders: senders,
		cfg:     cfg,
		// Token bucket: burst = rate per sec, so one report to a few
		// senders never blocks.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		sleep:   sleepCtx,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

func (s *Service) Enabled() bool { return len(s.senders) > 0 }

// Notify delivers r to every sender. It returns ErrDisabled when there are
// no senders, otherwise the joined errors of the senders that failed.
func (s *Service) Notify(ctx context.Context, r Report) error {
	if len(s.senders) == 0 {
		return ErrDisabled
	}
	var errs []error
	for _, snd := range s.senders {
		if err := s.sendWithRetry(ctx, snd, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", snd.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sendWithRetry(ctx context.Context, snd Sender, r Report) error {
	maxAttempts := 1 + s.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := snd.Send(callCtx, r)
		cancel()
		if err == nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Data: Event{
				Sender: snd.Name(), ConfigID: r.ConfigID, RunID: r.RunID, At: time.Now(),
			}})
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("sender", snd.Name()),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
		)
		if attempt >= maxAttempts || errors.Is(err, errPermanent) {
			break
		}
		if err := s.sleep(ctx, retryDelay(s.cfg, attempt)); err != nil {
			break
		}
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Data: Event{
		Sender: snd.Name(), ConfigID: r.ConfigID, RunID: r.RunID, At: time.Now(), Error: lastErr.Error(),
	}})
	return lastErr
}

// errPermanent marks failures a retry cannot fix (4xx responses).
var errPermanent = errors.New("permanent delivery failure")

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
