package evaluator

import (
	"testing"
	"time"

	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

func TestCrossAboveRequiresStrictCrossing(t *testing.T) {
	candle := fetcher.Candle{Close: 102, PreviousClose: 100}

	fired := MatchCondition(storage.ConditionCrossAbove, indicator.SeriesReading(99, 101, nil), candle)
	if fired.Fired {
		t.Fatal("current 101 is not above close 102, must not fire")
	}

	candle = fetcher.Candle{Close: 100.5, PreviousClose: 100}
	fired = MatchCondition(storage.ConditionCrossAbove, indicator.SeriesReading(99, 101, nil), candle)
	if !fired.Fired || fired.Value != 101 {
		t.Fatalf("expected fire with value 101, got %+v", fired)
	}

	for _, current := range []float64{100.5, 100.4, 90} {
		m := MatchCondition(storage.ConditionCrossAbove, indicator.SeriesReading(99, current, nil), candle)
		if m.Fired {
			t.Fatalf("current %f <= close %f must not fire", current, candle.Close)
		}
	}

	m := MatchCondition(storage.ConditionCrossAbove, indicator.SeriesReading(100, 101, nil), candle)
	if m.Fired {
		t.Fatal("previous equal to previous close is not a crossing")
	}
}

func TestCrossBelowMirrors(t *testing.T) {
	candle := fetcher.Candle{Close: 99, PreviousClose: 100}
	m := MatchCondition(storage.ConditionCrossBelow, indicator.SeriesReading(101, 98, nil), candle)
	if !m.Fired || m.Value != 98 {
		t.Fatalf("expected fire with value 98, got %+v", m)
	}
	m = MatchCondition(storage.ConditionCrossBelow, indicator.SeriesReading(99, 98, nil), candle)
	if m.Fired {
		t.Fatal("previous below previous close is not a downward crossing")
	}
}

func TestScalarConditions(t *testing.T) {
	candle := fetcher.Candle{Close: 100, PreviousClose: 99}
	if m := MatchCondition(storage.ConditionGT, indicator.ScalarReading(101), candle); !m.Fired || m.Value != 101 {
		t.Fatalf("GT should fire: %+v", m)
	}
	if m := MatchCondition(storage.ConditionGT, indicator.ScalarReading(99), candle); m.Fired {
		t.Fatal("GT must not fire below close")
	}
	if m := MatchCondition(storage.ConditionLT, indicator.ScalarReading(99), candle); !m.Fired {
		t.Fatal("LT should fire below close")
	}
}

func TestShapeMismatchAndUnknownConditionNeverFire(t *testing.T) {
	candle := fetcher.Candle{Close: 100, PreviousClose: 90}
	if m := MatchCondition(storage.ConditionGT, indicator.SeriesReading(0, 1000, nil), candle); m.Fired {
		t.Fatal("GT with a series reading must not fire")
	}
	if m := MatchCondition(storage.ConditionCrossAbove, indicator.ScalarReading(1000), candle); m.Fired {
		t.Fatal("crossing with a scalar reading must not fire")
	}
	m := MatchCondition(storage.Condition("BETWEEN"), indicator.ScalarReading(1000), candle)
	if m.Fired || m.Supported {
		t.Fatalf("unknown condition must be unsupported, got %+v", m)
	}
}

func TestScoreSuppressesLowVolatility(t *testing.T) {
	reading := indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 100})
	ctx := Score(storage.TriggerEntry, reading, fetcher.Candle{Close: 100.04, PreviousClose: 100})
	if !ctx.Suppressed || ctx.Reason != ReasonLowVolatility {
		t.Fatalf("0.0004 move should be suppressed, got %+v", ctx)
	}
}

func TestScoreDirectionalSuppression(t *testing.T) {
	candle := fetcher.Candle{Close: 102, PreviousClose: 100}
	bearish := indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 103})
	bullish := indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 99})

	if ctx := Score(storage.TriggerEntry, bearish, candle); !ctx.Suppressed || ctx.Reason != ReasonBearishEntry {
		t.Fatalf("bearish entry should be suppressed, got %+v", ctx)
	}
	if ctx := Score(storage.TriggerExit, bullish, candle); !ctx.Suppressed || ctx.Reason != ReasonBullishExit {
		t.Fatalf("bullish exit should be suppressed, got %+v", ctx)
	}
	if ctx := Score(storage.TriggerExit, bearish, candle); ctx.Suppressed {
		t.Fatalf("bearish exit is aligned, got %+v", ctx)
	}
	if ctx := Score(storage.TriggerEntry, indicator.SeriesReading(1, 2, nil), candle); ctx.Suppressed || ctx.Bias != storage.BiasNeutral {
		t.Fatalf("neutral never suppresses, got %+v", ctx)
	}
}

func TestScoreConfidenceComponents(t *testing.T) {
	// bullish entry +40, spread 2/100.5 > 0.002 → +40, volatility 0.005 → +20
	reading := indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 99})
	ctx := Score(storage.TriggerEntry, reading, fetcher.Candle{Close: 100.5, PreviousClose: 100})
	if ctx.Confidence != 100 || ctx.Cooldown != 30*time.Second || ctx.Bias != storage.BiasBullish {
		t.Fatalf("want confidence 100 / 30s / BULLISH, got %+v", ctx)
	}

	// neutral +20, no trend, volatility 0.02 → +10
	ctx = Score(storage.TriggerEntry, indicator.SeriesReading(40, 60, nil), fetcher.Candle{Close: 102, PreviousClose: 100})
	if ctx.Confidence != 30 || ctx.Cooldown != 300*time.Second {
		t.Fatalf("want confidence 30 / 300s, got %+v", ctx)
	}

	// equal fast/slow is neutral +20, spread 0 → +10, volatility 0.0008 → +0
	flat := indicator.SeriesReading(99, 100, &indicator.Trend{Fast: 100, Slow: 100})
	ctx = Score(storage.TriggerExit, flat, fetcher.Candle{Close: 100.08, PreviousClose: 100})
	if ctx.Confidence != 30 || ctx.Bias != storage.BiasNeutral {
		t.Fatalf("want confidence 30 NEUTRAL, got %+v", ctx)
	}

	// bullish entry +40, spread 0.0015 → +25, volatility 0.005 → +20
	mild := indicator.SeriesReading(99, 100.15, &indicator.Trend{Fast: 100.15, Slow: 100})
	ctx = Score(storage.TriggerEntry, mild, fetcher.Candle{Close: 100, PreviousClose: 99.5})
	if ctx.Confidence != 85 {
		t.Fatalf("want confidence 85, got %+v", ctx)
	}
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	trends := []*indicator.Trend{nil, {Fast: 1, Slow: 2}, {Fast: 2, Slow: 1}, {Fast: 1, Slow: 1}, {Fast: 500, Slow: 1}}
	closes := []float64{100.0001, 100.06, 100.2, 100.9, 101, 150, 50}
	for _, trigger := range []storage.TriggerType{storage.TriggerEntry, storage.TriggerExit, storage.TriggerType("HEDGE")} {
		for _, trend := range trends {
			for _, c := range closes {
				ctx := Score(trigger, indicator.SeriesReading(1, 2, trend), fetcher.Candle{Close: c, PreviousClose: 100})
				if ctx.Confidence < 0 || ctx.Confidence > 100 {
					t.Fatalf("confidence %d out of range for %s %+v %f", ctx.Confidence, trigger, trend, c)
				}
			}
		}
	}
}

func TestAdaptiveCooldownBands(t *testing.T) {
	cases := map[int]time.Duration{
		100: 30 * time.Second,
		80:  30 * time.Second,
		79:  60 * time.Second,
		60:  60 * time.Second,
		59:  120 * time.Second,
		40:  120 * time.Second,
		39:  300 * time.Second,
		0:   300 * time.Second,
	}
	for confidence, want := range cases {
		if got := AdaptiveCooldown(confidence); got != want {
			t.Fatalf("confidence %d: want %s, got %s", confidence, want, got)
		}
	}
}

func TestCooldownGate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !CooldownElapsed(nil, now, time.Minute) {
		t.Fatal("a rule that never fired may fire")
	}
	last := now.Add(-59 * time.Second)
	if CooldownElapsed(&last, now, time.Minute) {
		t.Fatal("59s into a 60s cooldown must be blocked")
	}
	if got := Remaining(&last, now, time.Minute); got != time.Second {
		t.Fatalf("want 1s remaining, got %s", got)
	}
	last = now.Add(-60 * time.Second)
	if !CooldownElapsed(&last, now, time.Minute) {
		t.Fatal("exactly the cooldown has elapsed")
	}
}
