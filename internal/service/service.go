// Package service runs the alert engine: the rule sweep that turns market
// moves into alert events and the outcome evaluator that settles them.
package service

import (
	"context"
	"time"

	"trade-alert-engine/internal/indicator"
)

// IndicatorSource provides indicator readings over the samples the sweep
// feeds it. *indicator.Tracker is the production implementation.
type IndicatorSource interface {
	Observe(symbol, timeframe string, price float64)
	Read(symbol, timeframe, name string, params map[string]float64) (indicator.Reading, bool)
	Reset()
}

// Recorder receives engine counters. *metrics.Recorder satisfies it.
type Recorder interface {
	RecordTick(task string, seconds float64, err error)
	RecordSkipped(task string, n int)
	RecordRulesSwept(n int)
	RecordFired(trigger string)
	RecordSuppressed(reason string)
	RecordClassified(outcome string)
	RecordError(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTick(string, float64, error) {}
func (nopRecorder) RecordSkipped(string, int) {}
func (nopRecorder) RecordRulesSwept(int) {}
func (nopRecorder) RecordFired(string) {}
func (nopRecorder) RecordSuppressed(string) {}
func (nopRecorder) RecordClassified(string) {}
func (nopRecorder) RecordError(string) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}

// withTimeout bounds ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
