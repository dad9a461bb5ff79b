// Package scheduler drives the periodic maintenance work of the pipeline:
// retention sweeps and parked-alert reporting run on a fixed cadence,
// optionally aligned to wall-clock interval boundaries so multiple instances
// tick at comparable times.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the tick's nominal time.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval between ticks. Must be positive.
	Interval time.Duration
	// AlignToStart truncates ticks to interval boundaries instead of
	// counting from process start.
	AlignToStart bool
	// StartupDelay postpones the first tick, giving the rest of the process
	// time to come up.
	StartupDelay time.Duration
}

// Scheduler runs a TickFunc on the configured cadence. Tick errors are
// logged and do not stop the loop; only context cancellation does.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled, invoking tick once per interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.align(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// Woke up late (suspend, clock step); re-anchor instead of
			// firing a burst of catch-up ticks.
			next = s.align(time.Now().UTC())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := wait(ctx, delay); err != nil {
			return err
		}

		s.logger.Info().Time("tick", next).Msg("running maintenance tick")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("maintenance tick failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

// align returns the first tick time strictly after now.
func (s *Scheduler) align(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	for !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
