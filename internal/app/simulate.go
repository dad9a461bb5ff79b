package app

import (
	"context"
	"fmt"
	"os"

	"churn-risk-alerts/internal/alerting"
	"churn-risk-alerts/internal/events"
	"churn-risk-alerts/internal/simulator"
	"churn-risk-alerts/internal/storage"
)

// Simulate drives synthetic events through the real pipeline. Persistence is
// used when the database is configured; alert delivery goes to the configured
// webhook, or to the log when alerting is disabled.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var insights storage.InsightStore
	if store != nil {
		insights = store
	}

	// Simulation is single-process; the in-memory dedup store is enough.
	svc := a.newPipeline(insights, alerting.NewMemoryRecordStore())

	sim := simulator.New(simulator.Options{
		Entities:        opts.Entities,
		EventsPerEntity: opts.EventsPerEntity,
		Seed:            opts.Seed,
	}, a.Logger)

	ch := make(chan events.Event, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(ch)
		_, err := sim.Run(ctx, ch)
		errCh <- err
	}()

	if err := svc.Run(ctx, ch); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "simulation complete")
	return nil
}
