package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/storage"
)

// Show prints the most recent alert events with their outcome.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListEvents(ctx, storage.EventFilter{Owner: opts.Owner, Limit: opts.Limit})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no alert events found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAge\tOwner\tSymbol\tTF\tType\tValue\tBias\tConf\tOutcome\tEval Price")

	now := time.Now()
	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			humanize.RelTime(event.CreatedAt, now, "ago", "from now"),
			sanitizeInline(event.Owner),
			event.Symbol,
			event.Timeframe,
			event.TriggerType.NotificationType(),
			formatOptional(event.TriggerValue, 4),
			event.Context.TrendBias,
			event.Context.Confidence,
			event.Outcome,
			formatOptional(event.Context.EvaluationPrice, 4),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatOptional(v *float64, places int32) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromFloat(*v).StringFixed(places)
}
