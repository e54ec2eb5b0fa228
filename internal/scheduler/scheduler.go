package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/logging"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// TickBudget bounds a single tick. Zero means unbounded.
	TickBudget time.Duration
	// OnSkip is told how many ticks were dropped because the previous one overran.
	OnSkip func(n int)
	// OnTick observes the duration and result of every completed tick.
	OnTick func(elapsed time.Duration, err error)
}

// Scheduler drives one periodic task. Ticks never overlap: a tick that
// comes due while the previous one is still running is skipped.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	running atomic.Bool
	skipped atomic.Int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "scheduler"
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler").With().Str("task", opts.Name).Logger()}
}

// Run blocks, invoking tick at each interval until ctx is cancelled. A tick
// in progress when ctx is cancelled runs to completion before Run returns.
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

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			missed := int(-delay/s.opts.Interval) + 1
			s.skip(missed)
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.TryTick(ctx, s.bucketStart(next), tick)
		next = next.Add(s.opts.Interval)
	}
}

// TryTick runs tick once unless another tick is in flight, in which case it
// counts a skip and reports false. The tick context survives cancellation of
// ctx so a stop signal never aborts half-applied work; only TickBudget
// bounds it.
func (s *Scheduler) TryTick(ctx context.Context, at time.Time, tick TickFunc) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skip(1)
		return false
	}
	defer s.running.Store(false)

	tickCtx := context.WithoutCancel(ctx)
	if s.opts.TickBudget > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, s.opts.TickBudget)
		defer cancel()
	}

	start := time.Now()
	err := s.invoke(tickCtx, at, tick)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error().Err(err).Time("tick", at).Dur("elapsed", elapsed).Msg("tick execution failed")
	} else {
		s.logger.Debug().Time("tick", at).Dur("elapsed", elapsed).Msg("tick completed")
	}
	if s.opts.OnTick != nil {
		s.opts.OnTick(elapsed, err)
	}
	return true
}

// Skipped returns the number of ticks dropped so far.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) invoke(ctx context.Context, at time.Time, tick TickFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("tick panicked")
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return tick(ctx, at)
}

func (s *Scheduler) skip(n int) {
	if n <= 0 {
		return
	}
	s.skipped.Add(int64(n))
	s.logger.Warn().Int("skipped", n).Msg("previous tick overran, skipping")
	if s.opts.OnSkip != nil {
		s.opts.OnSkip(n)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
