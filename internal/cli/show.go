package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"churn-risk-alerts/internal/app"
)

var (
	showEntity string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			EntityID: showEntity,
			Limit:    showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showEntity, "entity", "", "Limit output to one entity")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of insights to display")
}
