package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trade-alert-engine/internal/app"
)

var (
	showOwner string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Owner: showOwner,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showOwner, "owner", "", "Only show events of this owner")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of events to display")
}
