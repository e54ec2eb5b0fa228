// Package alerting delivers fired alert events to real-time channels.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trade-alert-engine/internal/storage"
)

// Payload is the message pushed to an owner's channel when a rule fires.
type Payload struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Owner        string       `json:"-"`
	Symbol       string       `json:"symbol"`
	Timeframe    string       `json:"timeframe"`
	TriggerValue *float64     `json:"triggerValue"`
	TrendBias    storage.Bias `json:"trendBias"`
	Confidence   int          `json:"confidence"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NewPayload projects a persisted event onto its wire form.
func NewPayload(event storage.AlertEvent) Payload {
	return Payload{
		ID:           event.ID,
		Type:         event.TriggerType.NotificationType(),
		Owner:        event.Owner,
		Symbol:       event.Symbol,
		Timeframe:    event.Timeframe,
		TriggerValue: event.TriggerValue,
		TrendBias:    event.Context.TrendBias,
		Confidence:   event.Context.Confidence,
		CreatedAt:    event.CreatedAt,
	}
}

// Encode renders the payload as JSON.
func (p Payload) Encode() ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal alert payload: %w", err)
	}
	return body, nil
}

// Publisher pushes a payload to channel. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload Payload) error
}

// ChannelKey is the private channel of owner.
func ChannelKey(prefix, owner string) string {
	return prefix + owner
}

// Multi fans a payload out to every publisher and joins their errors.
type Multi []Publisher

// Publish calls every publisher, even after one fails.
func (m Multi) Publish(ctx context.Context, channel string, payload Payload) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, channel, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every payload. Used when no channel is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, Payload) error { return nil }

var (
	_ Publisher = Multi(nil)
	_ Publisher = Discard{}
)
