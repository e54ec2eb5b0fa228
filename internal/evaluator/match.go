// Package evaluator holds the side-effect-free decision steps applied to a
// rule on every sweep: condition matching, context scoring and the cooldown
// gate.
package evaluator

import (
	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

// Match is the result of testing a rule condition against one reading.
type Match struct {
	Fired     bool
	Value     float64
	Supported bool
}

// MatchCondition tests cond against reading and the current candle.
//
// GT/LT need a scalar reading; crossings need a series reading. A shape
// mismatch or an unknown condition never fires and is never an error.
func MatchCondition(cond storage.Condition, reading indicator.Reading, candle fetcher.Candle) Match {
	switch cond {
	case storage.ConditionGT:
		if reading.Kind != indicator.Scalar {
			return Match{Supported: true}
		}
		return Match{Fired: reading.Value > candle.Close, Value: reading.Value, Supported: true}
	case storage.ConditionLT:
		if reading.Kind != indicator.Scalar {
			return Match{Supported: true}
		}
		return Match{Fired: reading.Value < candle.Close, Value: reading.Value, Supported: true}
	case storage.ConditionCrossAbove:
		if reading.Kind != indicator.Series {
			return Match{Supported: true}
		}
		fired := reading.Previous < candle.PreviousClose && reading.Current > candle.Close
		return Match{Fired: fired, Value: reading.Current, Supported: true}
	case storage.ConditionCrossBelow:
		if reading.Kind != indicator.Series {
			return Match{Supported: true}
		}
		fired := reading.Previous > candle.PreviousClose && reading.Current < candle.Close
		return Match{Fired: fired, Value: reading.Current, Supported: true}
	default:
		return Match{}
	}
}
