package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/storage"
)

// Outcome evaluator defaults.
const (
	DefaultOutcomeBatch   = 20
	DefaultMinAge         = 2 * time.Minute
	DefaultNoiseThreshold = 0.001
)

// OutcomeOptions configures an OutcomeEvaluator.
type OutcomeOptions struct {
	BatchSize      int
	MinAge         time.Duration
	NoiseThreshold float64
	// EventTimeout bounds the price fetch and write of one event.
	EventTimeout time.Duration
	Now          func() time.Time
}

// OutcomeEvaluator settles pending alert events once the market has moved
// far enough away from the fired value to judge them.
//
// Batches rotate through the pending queue, so events that keep deferring
// cannot starve newer ones.
type OutcomeEvaluator struct {
	events  storage.EventStore
	prices  fetcher.PriceFetcher
	opts    OutcomeOptions
	now     func() time.Time
	metrics Recorder
	logger  zerolog.Logger

	mu     sync.Mutex
	cursor storage.PendingCursor
}

// NewOutcomeEvaluator builds an evaluator, filling zero options with defaults.
func NewOutcomeEvaluator(events storage.EventStore, prices fetcher.PriceFetcher, opts OutcomeOptions, metrics Recorder, logger zerolog.Logger) *OutcomeEvaluator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOutcomeBatch
	}
	if opts.MinAge <= 0 {
		opts.MinAge = DefaultMinAge
	}
	if opts.NoiseThreshold <= 0 {
		opts.NoiseThreshold = DefaultNoiseThreshold
	}
	return &OutcomeEvaluator{
		events:  events,
		prices:  prices,
		opts:    opts,
		now:     clockOrDefault(opts.Now),
		metrics: recorderOrNop(metrics),
		logger:  logging.Component(logger, "outcome"),
	}
}

// OutcomeResult summarises one evaluator pass.
type OutcomeResult struct {
	Pending    int
	Classified map[storage.Outcome]int
	Deferred   int
	Failed     int
}

// Evaluate is the scheduler tick.
func (o *OutcomeEvaluator) Evaluate(ctx context.Context, at time.Time) error {
	_, err := o.EvaluateOnce(ctx)
	return err
}

// EvaluateOnce settles at most one batch of pending events, continuing
// after the last event the previous pass looked at.
func (o *OutcomeEvaluator) EvaluateOnce(ctx context.Context) (OutcomeResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	events, err := o.nextBatch(ctx)
	if err != nil {
		o.metrics.RecordError("list_pending")
		return OutcomeResult{}, fmt.Errorf("list pending events: %w", err)
	}

	result := OutcomeResult{Pending: len(events), Classified: make(map[storage.Outcome]int)}
	for _, event := range events {
		outcome, err := o.evaluateEvent(ctx, event)
		switch {
		case err != nil:
			result.Failed++
		case outcome == storage.OutcomePending:
			result.Deferred++
		default:
			result.Classified[outcome]++
		}
	}
	return result, nil
}

// nextBatch reads the page after the cursor and wraps to the oldest event
// when the end of the queue is reached.
func (o *OutcomeEvaluator) nextBatch(ctx context.Context) ([]storage.AlertEvent, error) {
	events, err := o.events.ListPendingEvents(ctx, o.cursor, o.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && !o.cursor.IsZero() {
		o.cursor = storage.PendingCursor{}
		events, err = o.events.ListPendingEvents(ctx, o.cursor, o.opts.BatchSize)
		if err != nil {
			return nil, err
		}
	}

	if len(events) < o.opts.BatchSize {
		o.cursor = storage.PendingCursor{}
	} else {
		o.cursor = storage.CursorAt(events[len(events)-1])
	}
	return events, nil
}

func (o *OutcomeEvaluator) evaluateEvent(parent context.Context, event storage.AlertEvent) (outcome storage.Outcome, err error) {
	log := o.logger.With().
		Str("event_id", event.ID).
		Str("symbol", event.Symbol).
		Str("timeframe", event.Timeframe).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			o.metrics.RecordError("event_panic")
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("outcome evaluation panicked")
			outcome, err = storage.OutcomePending, fmt.Errorf("event %s panicked: %v", event.ID, r)
		}
	}()

	if event.TriggerValue == nil || *event.TriggerValue == 0 {
		return storage.OutcomePending, nil
	}
	now := o.now()
	if now.Sub(event.CreatedAt) < o.opts.MinAge {
		return storage.OutcomePending, nil
	}

	ctx, cancel := withTimeout(parent, o.opts.EventTimeout)
	defer cancel()

	candle, err := o.prices.FetchCandle(ctx, event.Symbol, event.Timeframe)
	if err != nil {
		o.metrics.RecordError("price")
		if errors.Is(err, fetcher.ErrUnavailable) {
			log.Debug().Err(err).Msg("price unavailable")
			return storage.OutcomePending, nil
		}
		log.Warn().Err(err).Msg("price fetch failed")
		return storage.OutcomePending, err
	}
	if candle.Close <= 0 {
		return storage.OutcomePending, nil
	}

	fired := *event.TriggerValue
	if math.Abs(candle.Close-fired)/fired < o.opts.NoiseThreshold {
		return storage.OutcomePending, nil
	}

	outcome = Classify(event.TriggerType, fired, candle.Close)
	updated, err := o.events.ClassifyEvent(ctx, event.ID, storage.Classification{
		Outcome:         outcome,
		EvaluatedAt:     now,
		EvaluationPrice: candle.Close,
	})
	if err != nil {
		o.metrics.RecordError("classify")
		log.Error().Err(err).Msg("failed to persist outcome")
		return storage.OutcomePending, err
	}
	if !updated {
		log.Debug().Msg("event already settled")
		return storage.OutcomePending, nil
	}

	o.metrics.RecordClassified(string(outcome))
	log.Info().
		Str("outcome", string(outcome)).
		Float64("fired", fired).
		Float64("close", candle.Close).
		Msg("alert outcome classified")
	return outcome, nil
}

// Classify judges a fired alert against the current close. ENTRY alerts win
// when price rose past the fired value, EXIT alerts when it fell below it.
// Any other trigger kind is IGNORED.
func Classify(trigger storage.TriggerType, fired, current float64) storage.Outcome {
	switch trigger {
	case storage.TriggerEntry:
		if current > fired {
			return storage.OutcomeWin
		}
		return storage.OutcomeLoss
	case storage.TriggerExit:
		if current < fired {
			return storage.OutcomeWin
		}
		return storage.OutcomeLoss
	default:
		return storage.OutcomeIgnored
	}
}
