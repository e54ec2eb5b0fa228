package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-alert-engine/internal/alerting"
	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticIndicators returns the same reading for every series.
type staticIndicators struct {
	mu       sync.Mutex
	reading  indicator.Reading
	ok       bool
	panicOn  string
	observed map[string]int
	resets   int
}

func newStaticIndicators(reading indicator.Reading) *staticIndicators {
	return &staticIndicators{reading: reading, ok: true, observed: make(map[string]int)}
}

func (s *staticIndicators) Observe(symbol, timeframe string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed[symbol+"|"+timeframe]++
}

func (s *staticIndicators) Read(symbol, timeframe, name string, params map[string]float64) (indicator.Reading, bool) {
	if s.panicOn != "" && symbol == s.panicOn {
		panic("indicator exploded")
	}
	return s.reading, s.ok
}

func (s *staticIndicators) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *staticIndicators) observations(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[key]
}

// staticPrices serves a fixed candle per symbol.
type staticPrices struct {
	mu      sync.Mutex
	candles map[string]fetcher.Candle
	errs    map[string]error
	calls   int
}

func newStaticPrices(symbol string, candle fetcher.Candle) *staticPrices {
	return &staticPrices{candles: map[string]fetcher.Candle{symbol: candle}, errs: map[string]error{}}
}

func (p *staticPrices) set(symbol string, candle fetcher.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol] = candle
}

func (p *staticPrices) FetchCandle(ctx context.Context, symbol, timeframe string) (fetcher.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[symbol]; err != nil {
		return fetcher.Candle{}, err
	}
	candle, ok := p.candles[symbol]
	if !ok {
		return fetcher.Candle{}, fetcher.ErrUnavailable
	}
	return candle, nil
}

type published struct {
	channel string
	payload alerting.Payload
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (r *recordingPublisher) Publish(ctx context.Context, channel string, payload alerting.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, published{channel: channel, payload: payload})
	return nil
}

type harness struct {
	store      *storage.MemoryStore
	prices     *staticPrices
	indicators *staticIndicators
	publisher  *recordingPublisher
	clock      *fakeClock
	sweeper    *Sweeper
}

// crossingCandle closes above the previous close by 0.5% so the volatility
// gate passes and a fast average of 101 sits above the close.
var crossingCandle = fetcher.Candle{Open: 100, High: 100.6, Low: 99.9, Close: 100.5, PreviousClose: 100}

func bullishCross() indicator.Reading {
	return indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 99})
}

func newHarness(t *testing.T, reading indicator.Reading, candle fetcher.Candle) *harness {
	t.Helper()
	h := &harness{
		store:      storage.NewMemoryStore(),
		prices:     newStaticPrices("BTCUSDT", candle),
		indicators: newStaticIndicators(reading),
		publisher:  &recordingPublisher{},
		clock:      newFakeClock(),
	}
	emitter := NewEmitter(h.store, h.store, h.publisher, EmitterOptions{ChannelPrefix: "alerts:user:", PublishTimeout: time.Second}, nil, zerolog.Nop())
	h.sweeper = NewSweeper(h.store, h.prices, h.indicators, emitter, SweepOptions{RuleTimeout: time.Second, Now: h.clock.Now}, nil, zerolog.Nop())
	return h
}

func (h *harness) addRule(t *testing.T, symbol string, trigger storage.TriggerType) storage.AlertRule {
	t.Helper()
	rule, err := h.store.CreateRule(context.Background(), storage.AlertRule{
		Owner:     "u1",
		Symbol:    symbol,
		Timeframe: "1m",
		Logic: storage.RuleLogic{
			Indicator: "EMA",
			Params:    map[string]float64{"fast": 9, "slow": 21},
			Condition: storage.ConditionCrossAbove,
		},
		TriggerType: trigger,
		Side:        storage.SideBuy,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func (h *harness) events(t *testing.T) []storage.AlertEvent {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), storage.EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return events
}

func (h *harness) rule(t *testing.T, id string) storage.AlertRule {
	t.Helper()
	rules, err := h.store.ListRules(context.Background(), "")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	for _, r := range rules {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not found", id)
	return storage.AlertRule{}
}

func TestSweepBullishCrossEmitsPendingEvent(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	rule := h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("want 1 fire, got %+v", result)
	}

	events := h.events(t)
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Outcome != storage.OutcomePending {
		t.Fatalf("new event should be PENDING, got %s", event.Outcome)
	}
	if event.TriggerValue == nil || *event.TriggerValue != 101 {
		t.Fatalf("trigger value should be 101, got %v", event.TriggerValue)
	}
	if event.Context.TrendBias != storage.BiasBullish || event.Context.Confidence != 100 || event.Context.CooldownSeconds != 30 {
		t.Fatalf("unexpected context %+v", event.Context)
	}
	if !event.CreatedAt.Equal(h.clock.Now()) {
		t.Fatalf("event should be stamped with the sweep clock, got %s", event.CreatedAt)
	}

	if len(h.publisher.sent) != 1 {
		t.Fatalf("want 1 publish, got %d", len(h.publisher.sent))
	}
	sent := h.publisher.sent[0]
	if sent.channel != "alerts:user:u1" || sent.payload.ID != event.ID || sent.payload.Type != "ALERT_ENTRY" {
		t.Fatalf("unexpected publish %+v", sent)
	}

	updated := h.rule(t, rule.ID)
	if updated.LastTriggeredAt == nil || !updated.LastTriggeredAt.Equal(h.clock.Now()) {
		t.Fatalf("lastTriggeredAt should be the fire time, got %v", updated.LastTriggeredAt)
	}
}

func TestSweepBearishEntryIsSuppressed(t *testing.T) {
	bearish := indicator.SeriesReading(99, 101, &indicator.Trend{Fast: 101, Slow: 103})
	h := newHarness(t, bearish, crossingCandle)
	rule := h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Suppressed != 1 || len(h.events(t)) != 0 {
		t.Fatalf("bearish entry must not emit, got %+v", result)
	}
	if h.rule(t, rule.ID).LastTriggeredAt != nil {
		t.Fatal("suppressed fire must not touch lastTriggeredAt")
	}
}

func TestSweepVolatilityGate(t *testing.T) {
	quiet := fetcher.Candle{Close: 100.04, PreviousClose: 100}
	h := newHarness(t, bullishCross(), quiet)
	rule := h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	for i := 0; i < 3; i++ {
		if _, err := h.sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		h.clock.Advance(time.Hour)
	}
	if n := len(h.events(t)); n != 0 {
		t.Fatalf("quiet market must never emit, got %d events", n)
	}
	if h.rule(t, rule.ID).LastTriggeredAt != nil {
		t.Fatal("noise must not touch lastTriggeredAt")
	}
}

func TestSweepCooldownAllowsOneFirePerWindow(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	sweep := func() {
		if _, err := h.sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}

	sweep()
	h.clock.Advance(10 * time.Second)
	sweep()
	if n := len(h.events(t)); n != 1 {
		t.Fatalf("second fire within the 30s cooldown must be dropped, got %d events", n)
	}

	h.clock.Advance(20 * time.Second)
	sweep()
	if n := len(h.events(t)); n != 2 {
		t.Fatalf("fire after the cooldown should emit, got %d events", n)
	}
}

func TestSweepPublishFailureKeepsPersistence(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	h.publisher.err = errors.New("channel down")
	rule := h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Fired != 1 || len(h.events(t)) != 1 {
		t.Fatalf("event must persist despite publish failure, got %+v", result)
	}
	if h.rule(t, rule.ID).LastTriggeredAt == nil {
		t.Fatal("cooldown clock must advance despite publish failure")
	}
}

func TestSweepIsolatesRuleFailures(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	h.prices.set("ETHUSDT", crossingCandle)
	h.prices.set("BOOM", crossingCandle)
	h.prices.errs["SOLUSDT"] = errors.New("exchange timeout")
	h.indicators.panicOn = "BOOM"

	h.addRule(t, "BOOM", storage.TriggerEntry)
	h.addRule(t, "SOLUSDT", storage.TriggerEntry)
	h.addRule(t, "DOGEUSDT", storage.TriggerEntry)
	h.addRule(t, "ETHUSDT", storage.TriggerEntry)

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Rules != 4 || result.Fired != 1 || result.Failed != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	events := h.events(t)
	if len(events) != 1 || events[0].Symbol != "ETHUSDT" {
		t.Fatalf("only the healthy rule should fire, got %+v", events)
	}
}

func TestSweepObservesEachSeriesOncePerTick(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	h.addRule(t, "BTCUSDT", storage.TriggerEntry)
	h.addRule(t, "BTCUSDT", storage.TriggerExit)
	h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	if _, err := h.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := h.indicators.observations("BTCUSDT|1m"); got != 1 {
		t.Fatalf("series should be observed once per tick, got %d", got)
	}
	if h.prices.calls != 1 {
		t.Fatalf("price should be fetched once per series per tick, got %d", h.prices.calls)
	}
}

func TestSweepSkipsColdIndicator(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	h.indicators.ok = false
	h.addRule(t, "BTCUSDT", storage.TriggerEntry)

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped != 1 || len(h.events(t)) != 0 {
		t.Fatalf("no reading means no fire, got %+v", result)
	}
}

func TestSweepIgnoresInactiveRules(t *testing.T) {
	h := newHarness(t, bullishCross(), crossingCandle)
	rule := h.addRule(t, "BTCUSDT", storage.TriggerEntry)
	if err := h.store.SetRuleActive(context.Background(), rule.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	result, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Rules != 0 || len(h.events(t)) != 0 {
		t.Fatalf("inactive rules are not swept, got %+v", result)
	}
}
