package cli

import (
	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Classify pending alert events once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context())
	},
}
