package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ruleColumns = `id, owner_id, symbol, timeframe, indicator, params, condition,
        threshold::text, trigger_type, side, is_active, cooldown_seconds,
        last_triggered_at, created_at`

	eventColumns = `id, owner_id, rule_id, symbol, timeframe, trigger_type,
        trigger_value::text, trend_bias, volatility, confidence, cooldown_seconds,
        evaluation_price::text, outcome, evaluated_at, created_at`

	insertRuleSQL = `INSERT INTO alert_rules (
        id, owner_id, symbol, timeframe, indicator, params, condition,
        threshold, trigger_type, side, is_active, cooldown_seconds,
        last_triggered_at, created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	listActiveRulesSQL = `SELECT ` + ruleColumns + `
    FROM alert_rules
    WHERE is_active
    ORDER BY created_at;`

	listRulesSQL = `SELECT ` + ruleColumns + `
    FROM alert_rules
    WHERE ($1 = '' OR owner_id = $1)
    ORDER BY created_at DESC;`

	setRuleActiveSQL = `UPDATE alert_rules SET is_active = $2 WHERE id = $1;`

	deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	markTriggeredSQL = `UPDATE alert_rules
    SET last_triggered_at = $2
    WHERE id = $1
      AND (last_triggered_at IS NULL OR last_triggered_at < $2);`

	insertEventSQL = `INSERT INTO alert_events (
        id, owner_id, rule_id, symbol, timeframe, trigger_type, trigger_value,
        trend_bias, volatility, confidence, cooldown_seconds, outcome, created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	listPendingEventsSQL = `SELECT ` + eventColumns + `
    FROM alert_events
    WHERE outcome = 'PENDING'
      AND trigger_value IS NOT NULL
      AND (created_at > $1 OR (created_at = $1 AND id > $2))
    ORDER BY created_at, id
    LIMIT $3;`

	classifyEventSQL = `UPDATE alert_events
    SET outcome = $2, evaluated_at = $3, evaluation_price = $4
    WHERE id = $1
      AND outcome = 'PENDING';`

	listEventsSQL = `SELECT ` + eventColumns + `
    FROM alert_events
    WHERE ($1 = '' OR owner_id = $1)
      AND ($2::timestamptz IS NULL OR created_at >= $2)
      AND ($3::timestamptz IS NULL OR created_at < $3)
      AND (NOT $4 OR outcome <> 'PENDING')
    ORDER BY created_at DESC
    LIMIT $5;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL backend for rules and events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ddl, err := loadSchema("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateRule inserts a rule, assigning id and creation time when unset.
func (s *Store) CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	if rule.ID == "" {
		rule.ID = newID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(paramsOrEmpty(rule.Logic.Params))
	if err != nil {
		return AlertRule{}, fmt.Errorf("marshal rule params: %w", err)
	}

	_, execErr := pool.Exec(ctx, insertRuleSQL,
		rule.ID,
		rule.Owner,
		rule.Symbol,
		rule.Timeframe,
		rule.Logic.Indicator,
		params,
		string(rule.Logic.Condition),
		formatNumeric(rule.Logic.Value),
		string(rule.TriggerType),
		string(rule.Side),
		rule.Active,
		rule.CooldownSeconds,
		rule.LastTriggeredAt,
		rule.CreatedAt,
	)
	if execErr != nil {
		return AlertRule{}, fmt.Errorf("insert rule: %w", execErr)
	}
	return rule, nil
}

// ListActiveRules returns every rule with the active flag set.
func (s *Store) ListActiveRules(ctx context.Context) ([]AlertRule, error) {
	return s.queryRules(ctx, "list active rules", listActiveRulesSQL)
}

// ListRules returns the rules of one owner, or all rules when owner is empty.
func (s *Store) ListRules(ctx context.Context, owner string) ([]AlertRule, error) {
	return s.queryRules(ctx, "list rules", listRulesSQL, owner)
}

func (s *Store) queryRules(ctx context.Context, op, query string, args ...interface{}) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanPgRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// SetRuleActive toggles the active flag.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, setRuleActiveSQL, id, active)
	if execErr != nil {
		return fmt.Errorf("set rule active: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. Its past events are kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete rule: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTriggered records the latest fire time of a rule.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markTriggeredSQL, id, at.UTC()); execErr != nil {
		return fmt.Errorf("mark rule triggered: %w", execErr)
	}
	return nil
}

// CreateEvent persists a freshly fired event.
func (s *Store) CreateEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEvent{}, err
	}

	event = prepareEvent(event)
	_, execErr := pool.Exec(ctx, insertEventSQL,
		event.ID,
		event.Owner,
		event.RuleID,
		event.Symbol,
		event.Timeframe,
		string(event.TriggerType),
		formatNumeric(event.TriggerValue),
		string(event.Context.TrendBias),
		event.Context.Volatility,
		event.Context.Confidence,
		event.Context.CooldownSeconds,
		string(event.Outcome),
		event.CreatedAt,
	)
	if execErr != nil {
		return AlertEvent{}, fmt.Errorf("insert event: %w", execErr)
	}
	return event, nil
}

// ListPendingEvents returns up to limit pending events with a trigger value
// that sort after the cursor, oldest first.
func (s *Store) ListPendingEvents(ctx context.Context, after PendingCursor, limit int) ([]AlertEvent, error) {
	return s.queryEvents(ctx, "list pending events", listPendingEventsSQL,
		after.CreatedAt.UTC(),
		after.ID,
		normalizeLimit(limit, 20),
	)
}

// ClassifyEvent writes the terminal outcome of a pending event.
func (s *Store) ClassifyEvent(ctx context.Context, id string, c Classification) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	price := c.EvaluationPrice
	tag, execErr := pool.Exec(ctx, classifyEventSQL, id, string(c.Outcome), c.EvaluatedAt.UTC(), formatNumeric(&price))
	if execErr != nil {
		return false, fmt.Errorf("classify event: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListEvents returns events matching the filter, newest first.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]AlertEvent, error) {
	return s.queryEvents(ctx, "list events", listEventsSQL,
		filter.Owner,
		filter.From,
		filter.To,
		filter.SettledOnly,
		normalizeLimit(filter.Limit, 100),
	)
}

func (s *Store) queryEvents(ctx context.Context, op, query string, args ...interface{}) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0)
	for rows.Next() {
		event, scanErr := scanPgEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanPgRule(rows pgx.Rows) (AlertRule, error) {
	var (
		rule      AlertRule
		params    []byte
		condition string
		threshold sql.NullString
		trigger   string
		side      string
	)

	if err := rows.Scan(
		&rule.ID,
		&rule.Owner,
		&rule.Symbol,
		&rule.Timeframe,
		&rule.Logic.Indicator,
		&params,
		&condition,
		&threshold,
		&trigger,
		&side,
		&rule.Active,
		&rule.CooldownSeconds,
		&rule.LastTriggeredAt,
		&rule.CreatedAt,
	); err != nil {
		return AlertRule{}, err
	}

	return finishRule(rule, params, condition, threshold, trigger, side)
}

func scanPgEvent(rows pgx.Rows) (AlertEvent, error) {
	var (
		event      AlertEvent
		trigger    string
		value      sql.NullString
		bias       string
		evalPrice  sql.NullString
		outcome    string
		evaluated  *time.Time
		confidence int32
		cooldown   int32
	)

	if err := rows.Scan(
		&event.ID,
		&event.Owner,
		&event.RuleID,
		&event.Symbol,
		&event.Timeframe,
		&trigger,
		&value,
		&bias,
		&event.Context.Volatility,
		&confidence,
		&cooldown,
		&evalPrice,
		&outcome,
		&evaluated,
		&event.CreatedAt,
	); err != nil {
		return AlertEvent{}, err
	}

	event.Context.Confidence = int(confidence)
	event.Context.CooldownSeconds = int(cooldown)
	event.EvaluatedAt = evaluated
	return finishEvent(event, trigger, value, bias, evalPrice, outcome)
}

func finishRule(rule AlertRule, params []byte, condition string, threshold sql.NullString, trigger, side string) (AlertRule, error) {
	rule.Logic.Condition = Condition(condition)
	rule.TriggerType = TriggerType(trigger)
	rule.Side = Side(side)

	if len(params) > 0 {
		if err := json.Unmarshal(params, &rule.Logic.Params); err != nil {
			return AlertRule{}, fmt.Errorf("parse rule params: %w", err)
		}
	}

	value, err := parseNumeric(threshold)
	if err != nil {
		return AlertRule{}, err
	}
	rule.Logic.Value = value
	return rule, nil
}

func finishEvent(event AlertEvent, trigger string, value sql.NullString, bias string, evalPrice sql.NullString, outcome string) (AlertEvent, error) {
	event.TriggerType = TriggerType(trigger)
	event.Context.TrendBias = Bias(bias)
	event.Outcome = Outcome(outcome)

	var err error
	if event.TriggerValue, err = parseNumeric(value); err != nil {
		return AlertEvent{}, err
	}
	if event.Context.EvaluationPrice, err = parseNumeric(evalPrice); err != nil {
		return AlertEvent{}, err
	}
	return event, nil
}

func prepareEvent(event AlertEvent) AlertEvent {
	if event.ID == "" {
		event.ID = newID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomePending
	}
	return event
}

func paramsOrEmpty(params map[string]float64) map[string]float64 {
	if params == nil {
		return map[string]float64{}
	}
	return params
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
