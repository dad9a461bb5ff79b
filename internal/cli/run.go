package cli

import (
	"github.com/spf13/cobra"

	"churn-risk-alerts/internal/app"
)

var runEventsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event processing pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{EventsPath: runEventsPath})
	},
}

func init() {
	runCmd.Flags().StringVar(&runEventsPath, "events", "-", "NDJSON event source file ('-' for stdin)")
}
