package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

// warmup seeds the indicator windows of every actively watched series with
// recent closes so rules can fire from the first sweep.
func (a *App) warmup(ctx context.Context, rules storage.RuleStore, prices fetcher.PriceFetcher, tracker *indicator.Tracker) error {
	history, ok := prices.(fetcher.HistoryFetcher)
	if !ok {
		a.Logger.Warn().Str("market", a.Config.Market.Source).Msg("market source has no history; skipping warmup")
		return nil
	}

	active, err := rules.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("list active rules: %w", err)
	}

	type series struct{ symbol, timeframe string }
	seen := make(map[series]bool)
	var pending []series
	for _, rule := range active {
		s := series{symbol: strings.ToUpper(rule.Symbol), timeframe: rule.Timeframe}
		if !seen[s] {
			seen[s] = true
			pending = append(pending, s)
		}
	}

	window := a.Config.Engine.WindowSize
	processed, failed := 0, 0
	for _, s := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, a.Config.Engine.RuleTimeout)
		closes, err := history.FetchCloses(fetchCtx, s.symbol, s.timeframe, window)
		cancel()
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", s.symbol).Str("timeframe", s.timeframe).Msg("warmup failed")
			continue
		}
		for _, c := range closes {
			tracker.Observe(s.symbol, s.timeframe, c)
		}
		if n := tracker.Len(s.symbol, s.timeframe); n < window {
			a.Logger.Warn().Str("symbol", s.symbol).Str("timeframe", s.timeframe).Int("samples", n).Int("window", window).Msg("warmup history shorter than window")
		}
		processed++
	}

	a.Logger.Info().Int("series", processed).Int("failed", failed).Msg("indicator warmup complete")
	if failed > 0 {
		return errors.New("some series could not be warmed up, see log")
	}
	return nil
}
