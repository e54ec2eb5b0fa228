package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/scheduler"
)

// Task names used for logging and metrics.
const (
	TaskSweep   = "sweep"
	TaskOutcome = "outcome"
)

// EngineOptions sets the cadence of both periodic tasks.
type EngineOptions struct {
	SweepInterval   time.Duration
	OutcomeInterval time.Duration
	TickBudget      time.Duration
	StartupDelay    time.Duration
}

// Engine owns the rule sweep and the outcome evaluator loops.
type Engine struct {
	sweeper    *Sweeper
	outcomes   *OutcomeEvaluator
	indicators IndicatorSource
	sweepSched *scheduler.Scheduler
	outSched   *scheduler.Scheduler
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine wires both tasks onto their own schedulers.
func NewEngine(sweeper *Sweeper, outcomes *OutcomeEvaluator, indicators IndicatorSource, opts EngineOptions, metrics Recorder, logger zerolog.Logger) *Engine {
	metrics = recorderOrNop(metrics)
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.OutcomeInterval <= 0 {
		opts.OutcomeInterval = 60 * time.Second
	}

	newSched := func(task string, interval time.Duration) *scheduler.Scheduler {
		return scheduler.New(scheduler.Options{
			Name:         task,
			Interval:     interval,
			StartupDelay: opts.StartupDelay,
			TickBudget:   opts.TickBudget,
			OnSkip:       func(n int) { metrics.RecordSkipped(task, n) },
			OnTick: func(elapsed time.Duration, err error) {
				metrics.RecordTick(task, elapsed.Seconds(), err)
			},
		}, logger)
	}

	return &Engine{
		sweeper:    sweeper,
		outcomes:   outcomes,
		indicators: indicators,
		sweepSched: newSched(TaskSweep, opts.SweepInterval),
		outSched:   newSched(TaskOutcome, opts.OutcomeInterval),
		logger:     logging.Component(logger, "engine"),
	}
}

// Start launches both loops. Starting a running engine only logs a warning
// and reports false.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn().Msg("engine already running")
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = e.sweepSched.Run(runCtx, e.sweeper.Sweep)
	}()
	go func() {
		defer wg.Done()
		_ = e.outSched.Run(runCtx, e.outcomes.Evaluate)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	e.running = true
	e.cancel = cancel
	e.done = done
	e.logger.Info().Msg("engine started")
	return true
}

// Stop halts both timers and waits for any in-flight tick to finish, then
// drops the indicator buffers. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.cancel()
	<-e.done

	if e.indicators != nil {
		e.indicators.Reset()
	}
	e.running = false
	e.cancel = nil
	e.done = nil
	e.logger.Info().
		Int64("sweep_skipped", e.sweepSched.Skipped()).
		Int64("outcome_skipped", e.outSched.Skipped()).
		Msg("engine stopped")
}
