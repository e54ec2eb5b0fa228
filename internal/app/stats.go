package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"trade-alert-engine/internal/skill"
	"trade-alert-engine/internal/storage"
)

// Stats prints the outcome statistics of an owner's settled alerts.
func (a *App) Stats(ctx context.Context, opts StatsOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListEvents(ctx, storage.EventFilter{
		Owner:       opts.Owner,
		SettledOnly: true,
		Limit:       exportFetchLimit,
	})
	if err != nil {
		return err
	}

	stats := skill.Compute(events)
	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(a.Out, "Owner:           %s\n", opts.Owner)
	fmt.Fprintf(a.Out, "Settled alerts:  %s\n", humanize.Comma(int64(stats.Total)))
	fmt.Fprintf(a.Out, "Win/Loss/Ign:    %s / %s / %s\n", humanize.Comma(int64(stats.Win)), humanize.Comma(int64(stats.Loss)), humanize.Comma(int64(stats.Ignored)))
	fmt.Fprintf(a.Out, "Accuracy:        %s%%\n", humanize.FormatFloat("#.##", stats.AccuracyPercent))
	fmt.Fprintf(a.Out, "Skill score:     %s\n", humanize.FormatFloat("#.##", stats.SkillScore))
	fmt.Fprintf(a.Out, "Tier:            %s\n", stats.Tier)
	fmt.Fprintf(a.Out, "Learning signal: %s\n", stats.LearningSignal)
	return nil
}
