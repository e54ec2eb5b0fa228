package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/evaluator"
	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/storage"
)

// Reasons reported to the recorder for matched conditions that did not emit.
const (
	ReasonCooldown = "cooldown"
)

// SweepOptions configures a Sweeper.
type SweepOptions struct {
	RuleTimeout time.Duration
	LockKey     int64
	Now         func() time.Time
}

// Sweeper evaluates every active rule once per tick.
type Sweeper struct {
	rules       storage.RuleStore
	prices      fetcher.PriceFetcher
	indicators  IndicatorSource
	emitter     *Emitter
	locker      storage.AdvisoryLocker
	lockKey     int64
	ruleTimeout time.Duration
	now         func() time.Time
	metrics     Recorder
	logger      zerolog.Logger
}

// NewSweeper builds a Sweeper. When rules also implements
// storage.AdvisoryLocker and opts.LockKey is non-zero, every sweep runs
// under that lock.
func NewSweeper(rules storage.RuleStore, prices fetcher.PriceFetcher, indicators IndicatorSource, emitter *Emitter, opts SweepOptions, metrics Recorder, logger zerolog.Logger) *Sweeper {
	var locker storage.AdvisoryLocker
	if l, ok := rules.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Sweeper{
		rules:       rules,
		prices:      prices,
		indicators:  indicators,
		emitter:     emitter,
		locker:      locker,
		lockKey:     opts.LockKey,
		ruleTimeout: opts.RuleTimeout,
		now:         clockOrDefault(opts.Now),
		metrics:     recorderOrNop(metrics),
		logger:      logging.Component(logger, "sweep"),
	}
}

// SweepResult summarises one tick.
type SweepResult struct {
	Rules      int
	Fired      int
	Suppressed int
	Skipped    int
	Failed     int
}

// Sweep is the scheduler tick: it loads the active rules and runs each one
// through matching, scoring, the cooldown gate and emission. One rule's
// failure never stops the others.
func (s *Sweeper) Sweep(ctx context.Context, at time.Time) error {
	_, err := s.SweepOnce(ctx)
	return err
}

// SweepOnce runs one sweep and reports what happened.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip sweep because advisory lock held elsewhere")
		return SweepResult{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		s.metrics.RecordError("list_rules")
		return SweepResult{}, fmt.Errorf("list active rules: %w", err)
	}

	result := SweepResult{Rules: len(rules)}
	series := newTickSeries(s.prices, s.indicators)
	for _, rule := range rules {
		switch s.evaluateRule(ctx, rule, series) {
		case ruleFired:
			result.Fired++
		case ruleSuppressed:
			result.Suppressed++
		case ruleFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	s.metrics.RecordRulesSwept(len(rules))

	s.logger.Debug().
		Int("rules", result.Rules).
		Int("fired", result.Fired).
		Int("suppressed", result.Suppressed).
		Int("failed", result.Failed).
		Msg("sweep completed")
	return result, nil
}

type ruleResult int

const (
	ruleSkipped ruleResult = iota
	ruleSuppressed
	ruleFired
	ruleFailed
)

func (s *Sweeper) evaluateRule(parent context.Context, rule storage.AlertRule, series *tickSeries) (result ruleResult) {
	log := s.logger.With().
		Str("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("timeframe", rule.Timeframe).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("rule_panic")
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("rule evaluation panicked")
			result = ruleFailed
		}
	}()

	ctx, cancel := withTimeout(parent, s.ruleTimeout)
	defer cancel()

	candle, err := series.candle(ctx, rule.Symbol, rule.Timeframe)
	if err != nil {
		s.metrics.RecordError("price")
		if errors.Is(err, fetcher.ErrUnavailable) {
			log.Debug().Err(err).Msg("price unavailable")
		} else {
			log.Warn().Err(err).Msg("price fetch failed")
		}
		return ruleSkipped
	}

	reading, ok := s.indicators.Read(rule.Symbol, rule.Timeframe, rule.Logic.Indicator, rule.Logic.Params)
	if !ok {
		return ruleSkipped
	}

	match := evaluator.MatchCondition(rule.Logic.Condition, reading, candle)
	if !match.Supported {
		log.Debug().Str("condition", string(rule.Logic.Condition)).Msg("unsupported condition")
		return ruleSkipped
	}
	if !match.Fired {
		return ruleSkipped
	}

	scored := evaluator.Score(rule.TriggerType, reading, candle)
	if scored.Suppressed {
		s.metrics.RecordSuppressed(scored.Reason)
		log.Debug().Str("reason", scored.Reason).Float64("volatility", scored.Volatility).Msg("fire suppressed")
		return ruleSuppressed
	}

	now := s.now()
	if !evaluator.CooldownElapsed(rule.LastTriggeredAt, now, scored.Cooldown) {
		s.metrics.RecordSuppressed(ReasonCooldown)
		log.Debug().Dur("remaining", evaluator.Remaining(rule.LastTriggeredAt, now, scored.Cooldown)).Msg("fire within cooldown")
		return ruleSuppressed
	}

	if _, err := s.emitter.Emit(ctx, rule, match.Value, scored, now); err != nil {
		log.Error().Err(err).Msg("alert emission failed")
		return ruleFailed
	}
	return ruleFired
}

func (s *Sweeper) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// tickSeries fetches each symbol/timeframe at most once per tick and feeds
// its latest close to the indicator source exactly once.
type tickSeries struct {
	prices     fetcher.PriceFetcher
	indicators IndicatorSource
	seen       map[string]candleResult
}

type candleResult struct {
	candle fetcher.Candle
	err    error
}

func newTickSeries(prices fetcher.PriceFetcher, indicators IndicatorSource) *tickSeries {
	return &tickSeries{prices: prices, indicators: indicators, seen: make(map[string]candleResult)}
}

func (t *tickSeries) candle(ctx context.Context, symbol, timeframe string) (fetcher.Candle, error) {
	key := strings.ToUpper(symbol) + "|" + timeframe
	if res, ok := t.seen[key]; ok {
		return res.candle, res.err
	}

	candle, err := t.prices.FetchCandle(ctx, symbol, timeframe)
	if err == nil && !candle.Valid() {
		err = fmt.Errorf("%w: incomplete candle for %s %s", fetcher.ErrUnavailable, symbol, timeframe)
	}
	t.seen[key] = candleResult{candle: candle, err: err}
	if err != nil {
		return fetcher.Candle{}, err
	}

	t.indicators.Observe(symbol, timeframe, candle.Close)
	return candle, nil
}
