package fetcher

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Demo simulates paper-trading candles with a bounded random walk per symbol.
type Demo struct {
	mu    sync.Mutex
	rng   *rand.Rand
	last  map[string]float64
	now   func() time.Time
	floor float64
}

// NewDemo returns a demo feed seeded with seed.
func NewDemo(seed int64) *Demo {
	return &Demo{
		rng:   rand.New(rand.NewSource(seed)),
		last:  make(map[string]float64),
		now:   time.Now,
		floor: 1,
	}
}

// FetchCandle advances the walk of symbol by one step of at most ±1.
func (d *Demo) FetchCandle(ctx context.Context, symbol, timeframe string) (Candle, error) {
	if err := ctx.Err(); err != nil {
		return Candle{}, err
	}

	key := strings.ToUpper(symbol)

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.last[key]
	if !ok {
		prev = 100 + d.rng.Float64()*50
	}

	change := (d.rng.Float64() - 0.5) * 2
	closePrice := math.Max(d.floor, prev+change)
	d.last[key] = closePrice

	return Candle{
		Open:          prev,
		High:          math.Max(prev, closePrice) + d.rng.Float64(),
		Low:           math.Max(0, math.Min(prev, closePrice)-d.rng.Float64()),
		Close:         closePrice,
		PreviousClose: prev,
		Timestamp:     d.now().UTC(),
	}, nil
}

// FetchCloses walks symbol n steps and returns the closes, oldest first.
func (d *Demo) FetchCloses(ctx context.Context, symbol, timeframe string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	closes := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		candle, err := d.FetchCandle(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		closes = append(closes, candle.Close)
	}
	return closes, nil
}

var (
	_ PriceFetcher   = (*Demo)(nil)
	_ HistoryFetcher = (*Demo)(nil)
)
