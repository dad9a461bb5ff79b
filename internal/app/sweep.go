package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Sweep runs a one-shot deletion of insights past their retention.
func (a *App) Sweep(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot sweep")
	}
	if closeStore != nil {
		defer closeStore()
	}

	deleted, err := store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "deleted %d expired insights\n", deleted)
	return nil
}
