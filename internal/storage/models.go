package storage

import (
	"time"
)

// Condition is the comparison a rule applies between an indicator reading and price.
type Condition string

const (
	ConditionGT         Condition = "GT"
	ConditionLT         Condition = "LT"
	ConditionCrossAbove Condition = "CROSS_ABOVE"
	ConditionCrossBelow Condition = "CROSS_BELOW"
)

// TriggerType states the trading intent behind a rule.
type TriggerType string

const (
	TriggerEntry TriggerType = "ENTRY"
	TriggerExit  TriggerType = "EXIT"
)

// NotificationType maps the trigger onto the type pushed to clients.
func (t TriggerType) NotificationType() string {
	if t == TriggerExit {
		return "ALERT_EXIT"
	}
	return "ALERT_ENTRY"
}

// Side is informational; the engine never acts on it.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Bias is the coarse trend direction captured at fire time.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// Outcome is the post-hoc classification of a fired alert.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeIgnored Outcome = "IGNORED"
)

// RuleLogic describes what a rule watches.
type RuleLogic struct {
	Indicator string             `json:"indicator" validate:"required"`
	Params    map[string]float64 `json:"params"`
	Condition Condition          `json:"condition" validate:"required,oneof=GT LT CROSS_ABOVE CROSS_BELOW"`
	Value     *float64           `json:"value,omitempty"`
}

// AlertRule is one user-authored watch condition.
//
// CooldownSeconds is reserved: the engine enforces the adaptive cooldown
// derived from the confidence score instead.
type AlertRule struct {
	ID              string      `json:"id"`
	Owner           string      `json:"owner" validate:"required"`
	Symbol          string      `json:"symbol" validate:"required"`
	Timeframe       string      `json:"timeframe" validate:"required,oneof=1m 3m 5m 15m 30m 1h 4h 1d"`
	Logic           RuleLogic   `json:"logic"`
	TriggerType     TriggerType `json:"triggerType" validate:"required,oneof=ENTRY EXIT"`
	Side            Side        `json:"side" validate:"required,oneof=BUY SELL"`
	Active          bool        `json:"active"`
	CooldownSeconds int         `json:"cooldownSeconds" validate:"gte=0"`
	LastTriggeredAt *time.Time  `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// EventContext is the immutable scoring snapshot written with an event,
// plus the evaluation price recorded when the outcome is decided.
type EventContext struct {
	TrendBias       Bias     `json:"trendBias"`
	Volatility      float64  `json:"volatility"`
	Confidence      int      `json:"confidence"`
	CooldownSeconds int      `json:"cooldownSeconds"`
	EvaluationPrice *float64 `json:"evaluationPrice,omitempty"`
}

// AlertEvent is one firing instance of a rule.
type AlertEvent struct {
	ID           string       `json:"id"`
	Owner        string       `json:"owner"`
	RuleID       string       `json:"ruleId"`
	Symbol       string       `json:"symbol"`
	Timeframe    string       `json:"timeframe"`
	TriggerType  TriggerType  `json:"triggerType"`
	TriggerValue *float64     `json:"triggerValue"`
	Context      EventContext `json:"meta"`
	Outcome      Outcome      `json:"outcome"`
	EvaluatedAt  *time.Time   `json:"evaluatedAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Classification is the terminal outcome write for one event.
type Classification struct {
	Outcome         Outcome
	EvaluatedAt     time.Time
	EvaluationPrice float64
}
