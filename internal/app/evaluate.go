package app

import (
	"context"
	"fmt"

	"trade-alert-engine/internal/service"
	"trade-alert-engine/internal/storage"
)

// Evaluate runs one outcome pass on demand and prints what it settled.
func (a *App) Evaluate(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	prices, err := a.newFetcher()
	if err != nil {
		return err
	}

	outcomes := service.NewOutcomeEvaluator(store, prices, service.OutcomeOptions{
		BatchSize:      a.Config.Outcome.BatchSize,
		MinAge:         a.Config.Outcome.MinAge,
		NoiseThreshold: a.Config.Outcome.NoiseThreshold,
		EventTimeout:   a.Config.Outcome.Timeout,
	}, nil, a.Logger)

	result, err := outcomes.EvaluateOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "pending: %d  win: %d  loss: %d  ignored: %d  deferred: %d  failed: %d\n",
		result.Pending,
		result.Classified[storage.OutcomeWin],
		result.Classified[storage.OutcomeLoss],
		result.Classified[storage.OutcomeIgnored],
		result.Deferred,
		result.Failed,
	)
	return nil
}
