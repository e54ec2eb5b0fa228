package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps rules and events in process memory. It backs the
// default "memory" driver and the tests of the engine.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[string]AlertRule
	events map[string]AlertEvent
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:  make(map[string]AlertRule),
		events: make(map[string]AlertEvent),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

func (m *MemoryStore) CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
	if rule.ID == "" {
		rule.ID = newID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (m *MemoryStore) ListActiveRules(ctx context.Context) ([]AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]AlertRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if rule.Active {
			rules = append(rules, cloneRule(rule))
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.Before(rules[j].CreatedAt) })
	return rules, nil
}

func (m *MemoryStore) ListRules(ctx context.Context, owner string) ([]AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]AlertRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if owner == "" || rule.Owner == owner {
			rules = append(rules, cloneRule(rule))
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.After(rules[j].CreatedAt) })
	return rules, nil
}

func (m *MemoryStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	rule.Active = active
	m.rules[id] = rule
	return nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	if rule.LastTriggeredAt != nil && !rule.LastTriggeredAt.Before(at) {
		return nil
	}
	ts := at.UTC()
	rule.LastTriggeredAt = &ts
	m.rules[id] = rule
	return nil
}

func (m *MemoryStore) CreateEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	event = prepareEvent(event)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = cloneEvent(event)
	return cloneEvent(event), nil
}

func (m *MemoryStore) ListPendingEvents(ctx context.Context, after PendingCursor, limit int) ([]AlertEvent, error) {
	limit = normalizeLimit(limit, 20)

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]AlertEvent, 0)
	for _, event := range m.events {
		if event.Outcome == OutcomePending && event.TriggerValue != nil && after.Before(event) {
			events = append(events, cloneEvent(event))
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MemoryStore) ClassifyEvent(ctx context.Context, id string, c Classification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id]
	if !ok {
		return false, ErrNotFound
	}
	if event.Outcome != OutcomePending {
		return false, nil
	}
	evaluated := c.EvaluatedAt.UTC()
	price := c.EvaluationPrice
	event.Outcome = c.Outcome
	event.EvaluatedAt = &evaluated
	event.Context.EvaluationPrice = &price
	m.events[id] = event
	return true, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]AlertEvent, error) {
	limit := normalizeLimit(filter.Limit, 100)

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]AlertEvent, 0)
	for _, event := range m.events {
		if filter.Owner != "" && event.Owner != filter.Owner {
			continue
		}
		if filter.From != nil && event.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !event.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.SettledOnly && event.Outcome == OutcomePending {
			continue
		}
		events = append(events, cloneEvent(event))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func cloneRule(rule AlertRule) AlertRule {
	if rule.Logic.Params != nil {
		params := make(map[string]float64, len(rule.Logic.Params))
		for k, v := range rule.Logic.Params {
			params[k] = v
		}
		rule.Logic.Params = params
	}
	if rule.Logic.Value != nil {
		v := *rule.Logic.Value
		rule.Logic.Value = &v
	}
	if rule.LastTriggeredAt != nil {
		ts := *rule.LastTriggeredAt
		rule.LastTriggeredAt = &ts
	}
	return rule
}

func cloneEvent(event AlertEvent) AlertEvent {
	if event.TriggerValue != nil {
		v := *event.TriggerValue
		event.TriggerValue = &v
	}
	if event.Context.EvaluationPrice != nil {
		v := *event.Context.EvaluationPrice
		event.Context.EvaluationPrice = &v
	}
	if event.EvaluatedAt != nil {
		ts := *event.EvaluatedAt
		event.EvaluatedAt = &ts
	}
	return event
}

var _ Backend = (*MemoryStore)(nil)
