package cli

import (
	"github.com/spf13/cobra"

	"trade-alert-engine/internal/app"
)

var runWarmup bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rule sweep and outcome evaluator until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Warmup: runWarmup})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runWarmup, "warmup", false, "Seed indicator windows from market history before the first sweep")
}
