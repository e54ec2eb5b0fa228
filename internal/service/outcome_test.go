package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/storage"
)

type outcomeHarness struct {
	store     *storage.MemoryStore
	prices    *staticPrices
	clock     *fakeClock
	evaluator *OutcomeEvaluator
}

func newOutcomeHarness(t *testing.T, close float64) *outcomeHarness {
	t.Helper()
	h := &outcomeHarness{
		store:  storage.NewMemoryStore(),
		prices: newStaticPrices("BTCUSDT", fetcher.Candle{Close: close, PreviousClose: close}),
		clock:  newFakeClock(),
	}
	h.evaluator = NewOutcomeEvaluator(h.store, h.prices, OutcomeOptions{EventTimeout: time.Second, Now: h.clock.Now}, nil, zerolog.Nop())
	return h
}

func (h *outcomeHarness) addEvent(t *testing.T, trigger storage.TriggerType, fired float64, age time.Duration) storage.AlertEvent {
	t.Helper()
	value := fired
	event, err := h.store.CreateEvent(context.Background(), storage.AlertEvent{
		Owner:        "u1",
		RuleID:       "rule-1",
		Symbol:       "BTCUSDT",
		Timeframe:    "1m",
		TriggerType:  trigger,
		TriggerValue: &value,
		CreatedAt:    h.clock.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func (h *outcomeHarness) get(t *testing.T, id string) storage.AlertEvent {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), storage.EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, e := range events {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("event %s not found", id)
	return storage.AlertEvent{}
}

func TestOutcomeEntryWin(t *testing.T) {
	h := newOutcomeHarness(t, 105)
	event := h.addEvent(t, storage.TriggerEntry, 100, 3*time.Minute)

	result, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Classified[storage.OutcomeWin] != 1 {
		t.Fatalf("want one WIN, got %+v", result)
	}

	got := h.get(t, event.ID)
	if got.Outcome != storage.OutcomeWin {
		t.Fatalf("want WIN, got %s", got.Outcome)
	}
	if got.EvaluatedAt == nil || !got.EvaluatedAt.Equal(h.clock.Now()) {
		t.Fatalf("evaluatedAt should be now, got %v", got.EvaluatedAt)
	}
	if got.Context.EvaluationPrice == nil || *got.Context.EvaluationPrice != 105 {
		t.Fatalf("evaluation price should be recorded, got %v", got.Context.EvaluationPrice)
	}
}

func TestOutcomeExitClassification(t *testing.T) {
	cases := []struct {
		close float64
		want  storage.Outcome
	}{
		{close: 98, want: storage.OutcomeWin},
		{close: 103, want: storage.OutcomeLoss},
	}
	for _, tc := range cases {
		h := newOutcomeHarness(t, tc.close)
		event := h.addEvent(t, storage.TriggerExit, 100, 5*time.Minute)
		if _, err := h.evaluator.EvaluateOnce(context.Background()); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got := h.get(t, event.ID).Outcome; got != tc.want {
			t.Fatalf("close %.0f: want %s, got %s", tc.close, tc.want, got)
		}
	}
}

func TestOutcomeYoungEventStaysPending(t *testing.T) {
	h := newOutcomeHarness(t, 150)
	event := h.addEvent(t, storage.TriggerEntry, 100, 2*time.Minute-time.Second)

	if _, err := h.evaluator.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := h.get(t, event.ID).Outcome; got != storage.OutcomePending {
		t.Fatalf("event younger than 2m must stay PENDING, got %s", got)
	}
	if h.prices.calls != 0 {
		t.Fatal("immature events should not fetch prices")
	}
}

func TestOutcomeNoiseStaysPending(t *testing.T) {
	h := newOutcomeHarness(t, 100.05)
	event := h.addEvent(t, storage.TriggerEntry, 100, time.Hour)

	result, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Deferred != 1 || h.get(t, event.ID).Outcome != storage.OutcomePending {
		t.Fatalf("a 0.05%% move is noise, got %+v", result)
	}
}

func TestOutcomeUnavailablePriceStaysPending(t *testing.T) {
	h := newOutcomeHarness(t, 105)
	h.prices.errs["BTCUSDT"] = fmt.Errorf("%w: rate limited", fetcher.ErrUnavailable)
	event := h.addEvent(t, storage.TriggerEntry, 100, time.Hour)

	if _, err := h.evaluator.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := h.get(t, event.ID).Outcome; got != storage.OutcomePending {
		t.Fatalf("want PENDING, got %s", got)
	}
}

func TestOutcomeNeverReclassifies(t *testing.T) {
	h := newOutcomeHarness(t, 105)
	event := h.addEvent(t, storage.TriggerEntry, 100, time.Hour)

	if _, err := h.evaluator.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	first := h.get(t, event.ID)

	h.prices.set("BTCUSDT", fetcher.Candle{Close: 90, PreviousClose: 90})
	h.clock.Advance(time.Minute)
	result, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Pending != 0 {
		t.Fatalf("settled events are no longer pending, got %+v", result)
	}

	second := h.get(t, event.ID)
	if second.Outcome != first.Outcome || !second.EvaluatedAt.Equal(*first.EvaluatedAt) {
		t.Fatalf("settled event changed: %+v -> %+v", first, second)
	}

	updated, err := h.store.ClassifyEvent(context.Background(), event.ID, storage.Classification{Outcome: storage.OutcomeLoss, EvaluatedAt: h.clock.Now(), EvaluationPrice: 90})
	if err != nil || updated {
		t.Fatalf("classification must be terminal, updated=%v err=%v", updated, err)
	}
}

func TestOutcomeUnknownTriggerIgnored(t *testing.T) {
	h := newOutcomeHarness(t, 105)
	event := h.addEvent(t, storage.TriggerType("HEDGE"), 100, time.Hour)

	if _, err := h.evaluator.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := h.get(t, event.ID).Outcome; got != storage.OutcomeIgnored {
		t.Fatalf("want IGNORED, got %s", got)
	}
}

func TestOutcomeBatchIsCapped(t *testing.T) {
	h := newOutcomeHarness(t, 105)
	for i := 0; i < 25; i++ {
		h.addEvent(t, storage.TriggerEntry, 100, time.Hour+time.Duration(i)*time.Second)
	}

	result, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Pending != DefaultOutcomeBatch || result.Classified[storage.OutcomeWin] != DefaultOutcomeBatch {
		t.Fatalf("want a batch of %d, got %+v", DefaultOutcomeBatch, result)
	}

	result, err = h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Classified[storage.OutcomeWin] != 5 {
		t.Fatalf("remaining events settle next pass, got %+v", result)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		trigger storage.TriggerType
		current float64
		want    storage.Outcome
	}{
		{storage.TriggerEntry, 105, storage.OutcomeWin},
		{storage.TriggerEntry, 95, storage.OutcomeLoss},
		{storage.TriggerEntry, 100, storage.OutcomeLoss},
		{storage.TriggerExit, 95, storage.OutcomeWin},
		{storage.TriggerExit, 105, storage.OutcomeLoss},
		{storage.TriggerExit, 100, storage.OutcomeLoss},
		{storage.TriggerType(""), 105, storage.OutcomeIgnored},
	}
	for _, tc := range cases {
		if got := Classify(tc.trigger, 100, tc.current); got != tc.want {
			t.Fatalf("%s at %.0f: want %s, got %s", tc.trigger, tc.current, tc.want, got)
		}
	}
}

func TestOutcomeDeferredEventsDoNotStarveNewerOnes(t *testing.T) {
	h := newOutcomeHarness(t, 100.05)
	for i := 0; i < DefaultOutcomeBatch; i++ {
		h.addEvent(t, storage.TriggerEntry, 100, time.Hour+time.Duration(i)*time.Second)
	}

	h.prices.set("ETHUSDT", fetcher.Candle{Close: 105, PreviousClose: 104})
	value := 100.0
	eth, err := h.store.CreateEvent(context.Background(), storage.AlertEvent{
		Owner:        "u1",
		RuleID:       "rule-2",
		Symbol:       "ETHUSDT",
		Timeframe:    "1m",
		TriggerType:  storage.TriggerEntry,
		TriggerValue: &value,
		CreatedAt:    h.clock.Now().Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	first, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if first.Deferred != DefaultOutcomeBatch {
		t.Fatalf("flat market should defer the old batch, got %+v", first)
	}

	second, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if second.Classified[storage.OutcomeWin] != 1 {
		t.Fatalf("next pass should reach the newer event, got %+v", second)
	}
	if got := h.get(t, eth.ID); got.Outcome != storage.OutcomeWin {
		t.Fatalf("ETHUSDT event should be WIN, got %s", got.Outcome)
	}

	third, err := h.evaluator.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if third.Pending != DefaultOutcomeBatch {
		t.Fatalf("rotation should wrap back to the oldest events, got %+v", third)
	}
}
