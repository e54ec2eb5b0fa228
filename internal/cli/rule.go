package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"trade-alert-engine/internal/app"
)

var (
	ruleOwner     string
	ruleSymbol    string
	ruleTimeframe string
	ruleIndicator string
	ruleParams    map[string]string
	ruleCondition string
	ruleValue     float64
	ruleTrigger   string
	ruleSide      string
	ruleCooldown  int
	ruleInactive  bool
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage alert rules",
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an alert rule and print its id",
	Example: `  alertengine rule add --owner u1 --symbol BTCUSDT --timeframe 1m \
    --indicator EMA --params period=9 --condition CROSS_ABOVE --trigger ENTRY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(ruleParams)
		if err != nil {
			return err
		}

		opts := app.RuleAddOptions{
			Owner:           ruleOwner,
			Symbol:          ruleSymbol,
			Timeframe:       ruleTimeframe,
			Indicator:       ruleIndicator,
			Params:          params,
			Condition:       ruleCondition,
			TriggerType:     ruleTrigger,
			Side:            ruleSide,
			CooldownSeconds: ruleCooldown,
			Inactive:        ruleInactive,
		}
		if cmd.Flags().Changed("value") {
			v := ruleValue
			opts.Value = &v
		}

		return getApp().RuleAdd(cmd.Context(), opts)
	},
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RuleList(cmd.Context(), ruleOwner)
	},
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Activate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RuleToggle(cmd.Context(), args[0], true)
	},
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RuleToggle(cmd.Context(), args[0], false)
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule, keeping its past events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RuleDelete(cmd.Context(), args[0])
	},
}

func parseParams(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --params value %s=%s: %w", k, v, err)
		}
		params[k] = f
	}
	return params, nil
}

func init() {
	f := ruleAddCmd.Flags()
	f.StringVar(&ruleOwner, "owner", "", "Owner of the rule")
	f.StringVar(&ruleSymbol, "symbol", "", "Market symbol, e.g. BTCUSDT")
	f.StringVar(&ruleTimeframe, "timeframe", "1m", "Candle timeframe")
	f.StringVar(&ruleIndicator, "indicator", "EMA", "EMA, RSI or SMA")
	f.StringToStringVar(&ruleParams, "params", nil, "Indicator parameters, e.g. period=14")
	f.StringVar(&ruleCondition, "condition", "", "GT, LT, CROSS_ABOVE or CROSS_BELOW")
	f.Float64Var(&ruleValue, "value", 0, "Optional reference value stored with the rule")
	f.StringVar(&ruleTrigger, "trigger", "ENTRY", "ENTRY or EXIT")
	f.StringVar(&ruleSide, "side", "BUY", "BUY or SELL")
	f.IntVar(&ruleCooldown, "cooldown", app.DefaultRuleCooldown, "Stored cooldown in seconds")
	f.BoolVar(&ruleInactive, "inactive", false, "Create the rule disabled")

	ruleListCmd.Flags().StringVar(&ruleOwner, "owner", "", "Only list rules of this owner")

	ruleCmd.AddCommand(ruleAddCmd, ruleListCmd, ruleEnableCmd, ruleDisableCmd, ruleDeleteCmd)
}
