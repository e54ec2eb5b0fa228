// Package indicator keeps a bounded window of recent prices per series and
// derives moving-average and momentum readings from it.
package indicator

import (
	"strings"
)

// Kind tags the shape of a Reading.
type Kind int

const (
	// Scalar readings carry a single Value.
	Scalar Kind = iota + 1
	// Series readings carry Previous and Current, one sample apart.
	Series
)

// Trend holds a fast and a slow moving average evaluated on the full window.
type Trend struct {
	Fast float64
	Slow float64
}

// Reading is the output of one indicator over the current window.
type Reading struct {
	Kind     Kind
	Value    float64
	Previous float64
	Current  float64
	Trend    *Trend
}

// ScalarReading builds a single-value reading.
func ScalarReading(v float64) Reading {
	return Reading{Kind: Scalar, Value: v}
}

// SeriesReading builds a previous/current reading with an optional trend.
func SeriesReading(previous, current float64, trend *Trend) Reading {
	return Reading{Kind: Series, Previous: previous, Current: current, Trend: trend}
}

// Names understood by Compute.
const (
	EMA = "EMA"
	RSI = "RSI"
	SMA = "SMA"
)

const (
	defaultFast      = 9
	defaultSlow      = 21
	defaultRSIPeriod = 14
	defaultSMAPeriod = 20
)

// Compute evaluates the named indicator over window (oldest first). It
// reports false for unknown names and windows too short to yield a previous
// value.
func Compute(name string, params map[string]float64, window []float64) (Reading, bool) {
	if len(window) < 2 {
		return Reading{}, false
	}
	prevWindow := window[:len(window)-1]

	switch strings.ToUpper(strings.TrimSpace(name)) {
	case EMA:
		fast := intParam(params, defaultFast, "fast", "period")
		slow := intParam(params, defaultSlow, "slow")
		fastCur := ExponentialMovingAverage(window, fast)
		slowCur := ExponentialMovingAverage(window, slow)
		return SeriesReading(
			ExponentialMovingAverage(prevWindow, fast),
			fastCur,
			&Trend{Fast: fastCur, Slow: slowCur},
		), true
	case RSI:
		period := intParam(params, defaultRSIPeriod, "period")
		return SeriesReading(
			RelativeStrength(prevWindow, period),
			RelativeStrength(window, period),
			nil,
		), true
	case SMA:
		period := intParam(params, defaultSMAPeriod, "period")
		return ScalarReading(SimpleMovingAverage(window, period)), true
	default:
		return Reading{}, false
	}
}

// ExponentialMovingAverage seeds with the first sample of values and folds
// every following sample in with smoothing factor 2/(period+1).
func ExponentialMovingAverage(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period < 1 {
		period = 1
	}
	k := 2 / (float64(period) + 1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RelativeStrength sums gains and losses over the last period deltas of
// values. Zero losses saturate at 100.
func RelativeStrength(values []float64, period int) float64 {
	if period < 1 {
		period = defaultRSIPeriod
	}
	if period > len(values)-1 {
		period = len(values) - 1
	}

	var gains, losses float64
	for i := len(values) - period; i < len(values); i++ {
		diff := values[i] - values[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// SimpleMovingAverage averages the last period samples of values.
func SimpleMovingAverage(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period < 1 || period > len(values) {
		period = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func intParam(params map[string]float64, fallback int, keys ...string) int {
	for _, key := range keys {
		if v, ok := params[key]; ok && v >= 1 {
			return int(v)
		}
	}
	return fallback
}

// Known reports whether Compute understands name.
func Known(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case EMA, RSI, SMA:
		return true
	default:
		return false
	}
}
