package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"churn-risk-alerts/internal/app"
)

var (
	simulateEntities int
	simulateEvents   int
	simulateSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive synthetic events through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateEntities <= 0 || simulateEvents <= 0 {
			return fmt.Errorf("--entities and --events-per-entity must be greater than zero")
		}

		opts := app.SimulateOptions{
			Entities:        simulateEntities,
			EventsPerEntity: simulateEvents,
			Seed:            simulateSeed,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateEntities, "entities", 50, "Number of distinct entities")
	simulateCmd.Flags().IntVar(&simulateEvents, "events-per-entity", 10, "Events generated per entity")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 0, "Random seed (0 uses the clock)")
}
