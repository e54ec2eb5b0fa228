package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"trade-alert-engine/internal/storage"
)

// exportFetchLimit caps how many events one export reads before downsampling.
const exportFetchLimit = 100000

// Export renders alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListEvents(ctx, storage.EventFilter{
		Owner: opts.Owner,
		From:  opts.From,
		To:    opts.To,
		Limit: exportFetchLimit,
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no alert events found for export window")
		return nil
	}

	// oldest first for charts and CSV
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting alert events")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(downsampled) < 2 {
			a.Logger.Warn().Msg("chart needs at least two events; skipping PNG")
			return nil
		}
		if err := writeEventsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []storage.AlertEvent, max int) []storage.AlertEvent {
	if max <= 0 || len(events) <= max {
		return events
	}
	if max == 1 {
		return events[len(events)-1:]
	}

	result := make([]storage.AlertEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []storage.AlertEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "event_id", "owner", "rule_id", "symbol", "timeframe", "type", "trigger_value", "trend_bias", "volatility", "confidence", "cooldown_seconds", "outcome", "evaluated_at", "evaluation_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		evaluatedAt := ""
		if event.EvaluatedAt != nil {
			evaluatedAt = event.EvaluatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.ID,
			event.Owner,
			event.RuleID,
			event.Symbol,
			event.Timeframe,
			event.TriggerType.NotificationType(),
			decimalString(event.TriggerValue),
			string(event.Context.TrendBias),
			decimal.NewFromFloat(event.Context.Volatility).String(),
			strconv.Itoa(event.Context.Confidence),
			strconv.Itoa(event.Context.CooldownSeconds),
			string(event.Outcome),
			evaluatedAt,
			decimalString(event.Context.EvaluationPrice),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeEventsPNG(path string, events []storage.AlertEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	values := make([]float64, len(events))
	confidence := make([]float64, len(events))

	for i, event := range events {
		x[i] = event.CreatedAt
		if event.TriggerValue != nil {
			values[i] = *event.TriggerValue
		}
		confidence[i] = float64(event.Context.Confidence)
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Fired value",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Confidence",
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Fired value",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Confidence",
				XValues: x,
				YValues: confidence,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func decimalString(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).String()
}
