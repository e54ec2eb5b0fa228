package cli

import (
	"github.com/spf13/cobra"

	"trade-alert-engine/internal/app"
)

var (
	simOwner         string
	simSymbol        string
	simTimeframe     string
	simCondition     string
	simTrigger       string
	simClose         float64
	simPreviousClose float64
	simPrevious      float64
	simCurrent       float64
	simValue         float64
	simFast          float64
	simSlow          float64
	simDryRun        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Judge one rule against a synthetic candle and indicator reading",
	Example: `  alertengine simulate-alert --close 100.5 --previous-close 100 \
    --previous 99 --current 101 --fast 101 --slow 99 --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		optional := func(name string, v float64) *float64 {
			if !flags.Changed(name) {
				return nil
			}
			return &v
		}

		opts := app.SimulateOptions{
			Owner:         simOwner,
			Symbol:        simSymbol,
			Timeframe:     simTimeframe,
			Condition:     simCondition,
			TriggerType:   simTrigger,
			Close:         simClose,
			PreviousClose: simPreviousClose,
			Previous:      optional("previous", simPrevious),
			Current:       optional("current", simCurrent),
			Value:         optional("value", simValue),
			Fast:          optional("fast", simFast),
			Slow:          optional("slow", simSlow),
			DryRun:        simDryRun,
		}

		_, _, err := getApp().SimulateAlert(cmd.Context(), opts)
		return err
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOwner, "owner", "simulator", "Owner of the synthetic rule")
	f.StringVar(&simSymbol, "symbol", "BTCUSDT", "Market symbol")
	f.StringVar(&simTimeframe, "timeframe", "1m", "Candle timeframe")
	f.StringVar(&simCondition, "condition", "CROSS_ABOVE", "GT, LT, CROSS_ABOVE or CROSS_BELOW")
	f.StringVar(&simTrigger, "trigger", "ENTRY", "ENTRY or EXIT")
	f.Float64Var(&simClose, "close", 0, "Current close price")
	f.Float64Var(&simPreviousClose, "previous-close", 0, "Previous close price")
	f.Float64Var(&simPrevious, "previous", 0, "Previous indicator value (series reading)")
	f.Float64Var(&simCurrent, "current", 0, "Current indicator value (series reading)")
	f.Float64Var(&simValue, "value", 0, "Indicator value (scalar reading)")
	f.Float64Var(&simFast, "fast", 0, "Fast moving average for the trend bias")
	f.Float64Var(&simSlow, "slow", 0, "Slow moving average for the trend bias")
	f.BoolVar(&simDryRun, "dry-run", false, "Do not publish to the configured channels")
}
