package evaluator

import (
	"math"
	"time"

	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

const (
	// MinVolatility is the smallest |Δclose|/previousClose treated as a real move.
	MinVolatility = 0.0005

	spreadStrong = 0.002
	spreadMild   = 0.001

	volatilityLow  = 0.001
	volatilityHigh = 0.01
)

// Suppression reasons.
const (
	ReasonLowVolatility = "low_volatility"
	ReasonBearishEntry  = "bearish_entry"
	ReasonBullishExit   = "bullish_exit"
)

// Context is the scored snapshot of a fired condition.
type Context struct {
	Suppressed bool
	Reason     string
	Bias       storage.Bias
	Volatility float64
	Confidence int
	Cooldown   time.Duration
}

// Score filters noise, derives the trend bias, and rates a fire that
// already matched its condition.
func Score(trigger storage.TriggerType, reading indicator.Reading, candle fetcher.Candle) Context {
	volatility := Volatility(candle)
	if volatility < MinVolatility {
		return Context{Suppressed: true, Reason: ReasonLowVolatility, Bias: storage.BiasNeutral, Volatility: volatility}
	}

	bias := TrendBias(reading)
	switch {
	case trigger == storage.TriggerEntry && bias == storage.BiasBearish:
		return Context{Suppressed: true, Reason: ReasonBearishEntry, Bias: bias, Volatility: volatility}
	case trigger == storage.TriggerExit && bias == storage.BiasBullish:
		return Context{Suppressed: true, Reason: ReasonBullishExit, Bias: bias, Volatility: volatility}
	}

	confidence := 0
	switch {
	case bias == storage.BiasBullish && trigger == storage.TriggerEntry,
		bias == storage.BiasBearish && trigger == storage.TriggerExit:
		confidence += 40
	case bias == storage.BiasNeutral:
		confidence += 20
	}

	if reading.Trend != nil {
		spread := math.Abs(reading.Trend.Fast-reading.Trend.Slow) / candle.Close
		switch {
		case spread > spreadStrong:
			confidence += 40
		case spread > spreadMild:
			confidence += 25
		default:
			confidence += 10
		}
	}

	switch {
	case volatility > volatilityLow && volatility < volatilityHigh:
		confidence += 20
	case volatility >= volatilityHigh:
		confidence += 10
	}

	confidence = clamp(confidence, 0, 100)
	return Context{
		Bias:       bias,
		Volatility: volatility,
		Confidence: confidence,
		Cooldown:   AdaptiveCooldown(confidence),
	}
}

// Volatility is the relative move between the previous and the current close.
func Volatility(candle fetcher.Candle) float64 {
	if candle.PreviousClose == 0 {
		return 0
	}
	return math.Abs(candle.Close-candle.PreviousClose) / candle.PreviousClose
}

// TrendBias compares the fast and slow averages of reading, NEUTRAL when absent.
func TrendBias(reading indicator.Reading) storage.Bias {
	if reading.Trend == nil {
		return storage.BiasNeutral
	}
	switch {
	case reading.Trend.Fast > reading.Trend.Slow:
		return storage.BiasBullish
	case reading.Trend.Fast < reading.Trend.Slow:
		return storage.BiasBearish
	default:
		return storage.BiasNeutral
	}
}

// AdaptiveCooldown maps a confidence score onto the minimum spacing between fires.
func AdaptiveCooldown(confidence int) time.Duration {
	switch {
	case confidence >= 80:
		return 30 * time.Second
	case confidence >= 60:
		return 60 * time.Second
	case confidence >= 40:
		return 120 * time.Second
	default:
		return 300 * time.Second
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
