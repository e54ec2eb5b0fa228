package app

import (
	"context"
	"errors"
	"fmt"

	"trade-alert-engine/internal/alerting"
	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/service"
	"trade-alert-engine/internal/storage"
)

// SimulateOptions describe one synthetic market state and the rule judged against it.
type SimulateOptions struct {
	Owner         string
	Symbol        string
	Timeframe     string
	Condition     string
	TriggerType   string
	Close         float64
	PreviousClose float64
	// Previous and Current shape a series reading; Value a scalar one.
	Previous *float64
	Current  *float64
	Value    *float64
	Fast     *float64
	Slow     *float64
	DryRun   bool
}

// SimulateAlert runs a single rule through matching, scoring, the cooldown
// gate and emission against the given candle and reading. Events go to a
// throwaway in-memory store; the configured channels receive the payload
// unless DryRun is set.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (storage.AlertEvent, bool, error) {
	reading, err := opts.reading()
	if err != nil {
		return storage.AlertEvent{}, false, err
	}

	indicatorName := indicator.EMA
	if reading.Kind == indicator.Scalar {
		indicatorName = indicator.SMA
	}
	rule, err := NewRule(RuleAddOptions{
		Owner:       opts.Owner,
		Symbol:      opts.Symbol,
		Timeframe:   opts.Timeframe,
		Indicator:   indicatorName,
		Condition:   opts.Condition,
		TriggerType: opts.TriggerType,
	})
	if err != nil {
		return storage.AlertEvent{}, false, err
	}

	var publisher alerting.Publisher = alerting.Discard{}
	if !opts.DryRun {
		p, closePublisher, err := a.newPublisher(ctx)
		if err != nil {
			return storage.AlertEvent{}, false, err
		}
		defer closePublisher()
		publisher = p
	}

	store := storage.NewMemoryStore()
	if _, err := store.CreateRule(ctx, rule); err != nil {
		return storage.AlertEvent{}, false, err
	}

	prices := &fetcher.Static{Candle: fetcher.Candle{Close: opts.Close, PreviousClose: opts.PreviousClose, Open: opts.PreviousClose}}
	parts := a.wire(store, prices, fixedReading{reading: reading}, publisher, nil)

	result, err := parts.sweeper.SweepOnce(ctx)
	if err != nil {
		return storage.AlertEvent{}, false, err
	}

	events, err := store.ListEvents(ctx, storage.EventFilter{Limit: 1})
	if err != nil {
		return storage.AlertEvent{}, false, err
	}
	if len(events) == 0 {
		fmt.Fprintf(a.Out, "no alert: fired=%d suppressed=%d skipped=%d\n", result.Fired, result.Suppressed, result.Skipped)
		return storage.AlertEvent{}, false, nil
	}

	event := events[0]
	fmt.Fprintf(a.Out, "alert %s %s %s value=%s bias=%s confidence=%d cooldown=%ds\n",
		event.TriggerType.NotificationType(),
		event.Symbol,
		event.Timeframe,
		formatOptional(event.TriggerValue, 4),
		event.Context.TrendBias,
		event.Context.Confidence,
		event.Context.CooldownSeconds,
	)
	return event, true, nil
}

func (o SimulateOptions) reading() (indicator.Reading, error) {
	if o.Close <= 0 || o.PreviousClose <= 0 {
		return indicator.Reading{}, errors.New("close and previous close must be greater than zero")
	}
	var trend *indicator.Trend
	if o.Fast != nil && o.Slow != nil {
		trend = &indicator.Trend{Fast: *o.Fast, Slow: *o.Slow}
	}
	switch {
	case o.Previous != nil && o.Current != nil:
		return indicator.SeriesReading(*o.Previous, *o.Current, trend), nil
	case o.Value != nil:
		r := indicator.ScalarReading(*o.Value)
		r.Trend = trend
		return r, nil
	default:
		return indicator.Reading{}, errors.New("provide --previous and --current, or --value")
	}
}

// fixedReading serves one reading for every series.
type fixedReading struct {
	reading indicator.Reading
}

func (f fixedReading) Observe(string, string, float64) {}

func (f fixedReading) Read(string, string, string, map[string]float64) (indicator.Reading, bool) {
	return f.reading, true
}

func (f fixedReading) Reset() {}

var _ service.IndicatorSource = fixedReading{}
