package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"trade-alert-engine/internal/app"
)

var (
	statsOwner string
	statsJSON  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise an owner's alert accuracy and skill tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsOwner == "" {
			return errors.New("--owner is required")
		}
		return getApp().Stats(cmd.Context(), app.StatsOptions{Owner: statsOwner, JSON: statsJSON})
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsOwner, "owner", "", "Owner whose alerts are summarised")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the summary as JSON")
}
