package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"churn-risk-alerts/internal/insight"
)

// Show prints recent insights, optionally for a single entity.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show insights")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var insights []insight.Insight
	if opts.EntityID != "" {
		insights, err = store.ListByEntity(ctx, opts.EntityID, opts.Limit)
	} else {
		insights, err = store.ListRecent(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(insights) == 0 {
		fmt.Fprintln(os.Stdout, "no insights found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEntity\tType\tScore\tConfidence\tSource\tModel\tExplanation")

	for _, ins := range insights {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%.2f\t%s\t%s\t%s\n",
			ins.Timestamp.UTC().Format(time.RFC3339),
			ins.EntityID,
			ins.PredictionType,
			ins.RiskScore,
			ins.Confidence,
			ins.Source,
			ins.ModelUsed,
			sanitizeInline(ins.Explanation),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
