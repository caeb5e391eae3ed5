package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/epoch"
)

// TickFunc is invoked on every wake-up with the instant the tick fired.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// Calendar, when set, adds a wake-up at every epoch boundary.
	Calendar *epoch.Calendar
	Clock    epoch.Clock
}

// Scheduler drives periodic freshness checks.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = epoch.SystemClock{}
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, ticking once immediately and then at each wake-up until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		now := s.opts.Clock.Now()
		s.logger.Debug().Time("now", now).Msg("executing scheduled tick")
		if err := tick(ctx, now); err != nil {
			s.logger.Error().Err(err).Time("now", now).Msg("tick execution failed")
		}

		next := s.NextWake(s.opts.Clock.Now())
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		s.logger.Debug().Time("next_wake", next).Msg("waiting for next tick")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// NextWake returns the earlier of now+Interval and the next epoch boundary.
func (s *Scheduler) NextWake(now time.Time) time.Time {
	next := now.Add(s.opts.Interval)
	if s.opts.Calendar == nil {
		return next
	}
	// fire just after the boundary so the new epoch is observed
	boundary := s.opts.Calendar.NextBoundary(now).Add(time.Second)
	if boundary.Before(next) {
		return boundary
	}
	return next
}
