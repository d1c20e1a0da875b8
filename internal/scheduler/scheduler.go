package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled run.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour. Cron, when set, takes precedence over
// Interval and is evaluated in Location.
type Options struct {
	Interval     time.Duration
	Cron         string
	Location     *time.Location
	AlignToStart bool
	RunOnStart   bool
	StartupDelay time.Duration
}

// Scheduler drives periodic scrape cycles.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var schedule cron.Schedule
	if opts.Cron != "" {
		parsed, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
		}
		if spec, ok := parsed.(*cron.SpecSchedule); ok {
			spec.Location = opts.Location
		}
		schedule = parsed
	} else if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}

	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking tick on schedule until ctx is cancelled. Tick errors
// are logged and do not stop the loop.
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

	if s.opts.RunOnStart {
		s.execute(ctx, tick, s.now().In(s.opts.Location))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	next := s.Next(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.Next(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.execute(ctx, tick, next)
		next = s.Next(next)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

// Next returns the first run time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	t = t.In(s.opts.Location)
	if s.schedule != nil {
		return s.schedule.Next(t)
	}
	if !s.opts.AlignToStart {
		return t.Add(s.opts.Interval)
	}
	bucket := t.Truncate(s.opts.Interval)
	if !bucket.After(t) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}
