// Package skill summarises how an owner's settled alerts played out.
package skill

import (
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/storage"
)

// Tier ranks an owner by track record.
type Tier string

// Tiers from weakest to strongest.
const (
	TierBeginner     Tier = "BEGINNER"
	TierIntermediate Tier = "INTERMEDIATE"
	TierPro          Tier = "PRO"
	TierElite        Tier = "ELITE"
)

// Signal suggests how much risk the owner's alerts can carry.
type Signal string

// Learning signals.
const (
	SignalConservative Signal = "CONSERVATIVE"
	SignalBalanced     Signal = "BALANCED"
	SignalAggressive   Signal = "AGGRESSIVE"
)

// Stats is the outcome summary for one owner.
type Stats struct {
	Total           int     `json:"totalAlerts"`
	Win             int     `json:"win"`
	Loss            int     `json:"loss"`
	Ignored         int     `json:"ignored"`
	AccuracyPercent float64 `json:"accuracyPercent"`
	SkillScore      float64 `json:"skillScore"`
	Tier            Tier    `json:"skillTier"`
	LearningSignal  Signal  `json:"learningSignal"`
}

type threshold struct {
	tier     Tier
	total    int
	accuracy float64
	skill    float64
}

// strongest first
var thresholds = []threshold{
	{tier: TierElite, total: 100, accuracy: 72, skill: 70},
	{tier: TierPro, total: 50, accuracy: 65, skill: 60},
	{tier: TierIntermediate, total: 20, accuracy: 55},
}

// Compute summarises events. Pending events are not counted.
//
// Accuracy is WIN/(WIN+LOSS). The skill score weights every settled event by
// the confidence it fired with and reports the share of that weight that won.
func Compute(events []storage.AlertEvent) Stats {
	var s Stats
	var weighted, weight int
	for _, e := range events {
		if e.Outcome == storage.OutcomePending {
			continue
		}
		s.Total++
		switch e.Outcome {
		case storage.OutcomeWin:
			s.Win++
			weighted += e.Context.Confidence
		case storage.OutcomeLoss:
			s.Loss++
		case storage.OutcomeIgnored:
			s.Ignored++
		}
		weight += e.Context.Confidence
	}

	if s.Win+s.Loss > 0 {
		s.AccuracyPercent = percent(s.Win, s.Win+s.Loss)
	}
	if weight > 0 {
		s.SkillScore = percent(weighted, weight)
	}

	s.Tier = TierFor(s.Total, s.AccuracyPercent, s.SkillScore)
	s.LearningSignal = SignalFor(s.Tier)
	return s
}

// TierFor returns the highest tier whose thresholds are all met.
func TierFor(total int, accuracy, skill float64) Tier {
	for _, t := range thresholds {
		if total >= t.total && accuracy >= t.accuracy && skill >= t.skill {
			return t.tier
		}
	}
	return TierBeginner
}

// SignalFor maps a tier onto its learning signal.
func SignalFor(tier Tier) Signal {
	switch tier {
	case TierPro, TierElite:
		return SignalAggressive
	case TierIntermediate:
		return SignalBalanced
	default:
		return SignalConservative
	}
}

func percent(part, whole int) float64 {
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2).
		InexactFloat64()
}
