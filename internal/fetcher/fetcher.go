package fetcher

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable signals that no candle could be produced for the symbol right now.
var ErrUnavailable = errors.New("fetcher: price unavailable")

// Candle is the latest OHLC sample of a symbol/timeframe pair.
type Candle struct {
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PreviousClose float64
	Timestamp     time.Time
}

// Valid reports whether the candle carries usable closes.
func (c Candle) Valid() bool {
	return c.Close > 0 && c.PreviousClose > 0
}

// PriceFetcher retrieves the latest candle for a symbol and timeframe.
type PriceFetcher interface {
	FetchCandle(ctx context.Context, symbol, timeframe string) (Candle, error)
}

// HistoryFetcher retrieves recent closes, oldest first, to seed indicator
// windows before the first sweep.
type HistoryFetcher interface {
	FetchCloses(ctx context.Context, symbol, timeframe string, n int) ([]float64, error)
}

// Static always returns the same candle. Used by simulations.
type Static struct {
	Candle Candle
}

// FetchCandle returns the configured candle.
func (s *Static) FetchCandle(ctx context.Context, symbol, timeframe string) (Candle, error) {
	if !s.Candle.Valid() {
		return Candle{}, ErrUnavailable
	}
	return s.Candle, nil
}

var _ PriceFetcher = (*Static)(nil)
