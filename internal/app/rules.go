package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

// DefaultRuleCooldown is the reserved per-rule cooldown stored on new rules.
const DefaultRuleCooldown = 300

var validate = validator.New()

// RuleAddOptions describe a new alert rule.
type RuleAddOptions struct {
	Owner           string
	Symbol          string
	Timeframe       string
	Indicator       string
	Params          map[string]float64
	Condition       string
	Value           *float64
	TriggerType     string
	Side            string
	CooldownSeconds int
	Inactive        bool
}

// NewRule normalises opts into a rule ready to persist, or explains why it
// is invalid.
func NewRule(opts RuleAddOptions) (storage.AlertRule, error) {
	rule := storage.AlertRule{
		Owner:     strings.TrimSpace(opts.Owner),
		Symbol:    strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		Timeframe: strings.TrimSpace(opts.Timeframe),
		Logic: storage.RuleLogic{
			Indicator: strings.ToUpper(strings.TrimSpace(opts.Indicator)),
			Params:    opts.Params,
			Condition: storage.Condition(strings.ToUpper(strings.TrimSpace(opts.Condition))),
			Value:     opts.Value,
		},
		TriggerType:     storage.TriggerType(strings.ToUpper(strings.TrimSpace(opts.TriggerType))),
		Side:            storage.Side(strings.ToUpper(strings.TrimSpace(opts.Side))),
		Active:          !opts.Inactive,
		CooldownSeconds: opts.CooldownSeconds,
	}
	if rule.TriggerType == "" {
		rule.TriggerType = storage.TriggerEntry
	}
	if rule.Side == "" {
		rule.Side = storage.SideBuy
	}
	if rule.CooldownSeconds == 0 {
		rule.CooldownSeconds = DefaultRuleCooldown
	}

	if err := validate.Struct(rule); err != nil {
		return storage.AlertRule{}, describeValidation(err)
	}
	if !indicator.Known(rule.Logic.Indicator) {
		return storage.AlertRule{}, fmt.Errorf("unknown indicator %q (want EMA, RSI or SMA)", rule.Logic.Indicator)
	}
	return rule, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", e.Namespace(), e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", e.Namespace(), e.Tag()))
		}
	}
	return fmt.Errorf("invalid rule: %s", strings.Join(msgs, "; "))
}

// RuleAdd validates and stores a new rule.
func (a *App) RuleAdd(ctx context.Context, opts RuleAddOptions) error {
	rule, err := NewRule(opts)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := store.CreateRule(ctx, rule)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("rule_id", created.ID).Str("owner", created.Owner).Str("symbol", created.Symbol).Msg("rule created")
	fmt.Fprintln(a.Out, created.ID)
	return nil
}

// RuleList prints the rules of owner, or every rule when owner is empty.
func (a *App) RuleList(ctx context.Context, owner string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rules, err := store.ListRules(ctx, owner)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(a.Out, "no rules found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tSymbol\tTF\tIndicator\tCondition\tTrigger\tSide\tActive\tLast Fired")
	now := time.Now()
	for _, rule := range rules {
		last := "never"
		if rule.LastTriggeredAt != nil {
			last = humanize.RelTime(*rule.LastTriggeredAt, now, "ago", "from now")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			rule.ID,
			sanitizeInline(rule.Owner),
			rule.Symbol,
			rule.Timeframe,
			rule.Logic.Indicator,
			rule.Logic.Condition,
			rule.TriggerType,
			rule.Side,
			rule.Active,
			last,
		)
	}
	return writer.Flush()
}

// RuleToggle activates or deactivates a rule.
func (a *App) RuleToggle(ctx context.Context, id string, active bool) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetRuleActive(ctx, id, active); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("rule %s not found", id)
		}
		return err
	}
	a.Logger.Info().Str("rule_id", id).Bool("active", active).Msg("rule updated")
	return nil
}

// RuleDelete removes a rule. Events it already produced are kept.
func (a *App) RuleDelete(ctx context.Context, id string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("rule %s not found", id)
		}
		return err
	}
	a.Logger.Info().Str("rule_id", id).Msg("rule deleted")
	return nil
}
