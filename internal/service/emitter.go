package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/alerting"
	"trade-alert-engine/internal/evaluator"
	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/storage"
)

// Emitter defaults applied when an option is left zero.
const (
	DefaultPublishTimeout = 2 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

// Emitter persists a fired alert, pushes it to the owner's channel and
// advances the rule's cooldown clock.
type Emitter struct {
	rules          storage.RuleStore
	events         storage.EventStore
	publisher      alerting.Publisher
	channelPrefix  string
	publishTimeout time.Duration
	writeTimeout   time.Duration
	metrics        Recorder
	logger         zerolog.Logger
}

// EmitterOptions configures an Emitter.
type EmitterOptions struct {
	ChannelPrefix  string
	PublishTimeout time.Duration
	// WriteTimeout bounds each store write. Writes run detached from the
	// caller's deadline so a fire is never left half recorded.
	WriteTimeout time.Duration
}

// NewEmitter builds an Emitter. A nil publisher discards every payload.
func NewEmitter(rules storage.RuleStore, events storage.EventStore, publisher alerting.Publisher, opts EmitterOptions, metrics Recorder, logger zerolog.Logger) *Emitter {
	if publisher == nil {
		publisher = alerting.Discard{}
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Emitter{
		rules:          rules,
		events:         events,
		publisher:      publisher,
		channelPrefix:  opts.ChannelPrefix,
		publishTimeout: opts.PublishTimeout,
		writeTimeout:   opts.WriteTimeout,
		metrics:        recorderOrNop(metrics),
		logger:         logging.Component(logger, "emitter"),
	}
}

// Emit records one fire of rule at time at.
//
// The event is written first and is authoritative. Publishing is best-effort
// and its failure is only logged. A failed event write leaves the rule
// untouched so the next tick can try again.
//
// Once the decision to fire is made, the writes and the publish no longer
// follow ctx's deadline: each gets its own timeout so an expiring rule
// budget cannot separate the event from its cooldown stamp.
func (e *Emitter) Emit(ctx context.Context, rule storage.AlertRule, value float64, scored evaluator.Context, at time.Time) (storage.AlertEvent, error) {
	detached := context.WithoutCancel(ctx)

	fired := value
	createCtx, cancelCreate := context.WithTimeout(detached, e.writeTimeout)
	event, err := e.events.CreateEvent(createCtx, storage.AlertEvent{
		Owner:        rule.Owner,
		RuleID:       rule.ID,
		Symbol:       rule.Symbol,
		Timeframe:    rule.Timeframe,
		TriggerType:  rule.TriggerType,
		TriggerValue: &fired,
		Context: storage.EventContext{
			TrendBias:       scored.Bias,
			Volatility:      scored.Volatility,
			Confidence:      scored.Confidence,
			CooldownSeconds: int(scored.Cooldown / time.Second),
		},
		Outcome:   storage.OutcomePending,
		CreatedAt: at,
	})
	cancelCreate()
	if err != nil {
		e.metrics.RecordError("create_event")
		return storage.AlertEvent{}, fmt.Errorf("create alert event: %w", err)
	}

	channel := alerting.ChannelKey(e.channelPrefix, rule.Owner)
	pubCtx, cancelPub := context.WithTimeout(detached, e.publishTimeout)
	if err := e.publisher.Publish(pubCtx, channel, alerting.NewPayload(event)); err != nil {
		e.metrics.RecordError("publish")
		e.logger.Warn().Err(err).Str("event_id", event.ID).Str("channel", channel).Msg("alert publish failed")
	}
	cancelPub()

	markCtx, cancelMark := context.WithTimeout(detached, e.writeTimeout)
	err = e.rules.MarkTriggered(markCtx, rule.ID, at)
	cancelMark()
	if err != nil {
		e.metrics.RecordError("mark_triggered")
		return event, fmt.Errorf("mark rule %s triggered: %w", rule.ID, err)
	}

	e.metrics.RecordFired(string(rule.TriggerType))
	e.logger.Info().
		Str("event_id", event.ID).
		Str("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("timeframe", rule.Timeframe).
		Str("trigger", string(rule.TriggerType)).
		Str("bias", string(scored.Bias)).
		Int("confidence", scored.Confidence).
		Float64("value", value).
		Msg("alert fired")
	return event, nil
}
