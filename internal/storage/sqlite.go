package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// fixed-width layout so stored timestamps compare correctly as text
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the single-file backend for hosts without PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the two periodic tasks
	db.SetMaxOpenConns(1)

	ddl, err := loadSchema("sqlite.sql")
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
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

	_, err = s.db.ExecContext(ctx, `INSERT INTO alert_rules (
        id, owner_id, symbol, timeframe, indicator, params, condition, threshold,
        trigger_type, side, is_active, cooldown_seconds, last_triggered_at, created_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		rule.ID, rule.Owner, rule.Symbol, rule.Timeframe, rule.Logic.Indicator, string(params),
		string(rule.Logic.Condition), formatNumeric(rule.Logic.Value), string(rule.TriggerType),
		string(rule.Side), rule.Active, rule.CooldownSeconds, formatTime(rule.LastTriggeredAt),
		rule.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return AlertRule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+sqliteRuleColumns+` FROM alert_rules WHERE is_active = 1 ORDER BY created_at;`)
}

func (s *SQLiteStore) ListRules(ctx context.Context, owner string) ([]AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+sqliteRuleColumns+` FROM alert_rules
        WHERE (? = '' OR owner_id = ?) ORDER BY created_at DESC;`, owner, owner)
}

func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alert_rules SET is_active = ? WHERE id = ?;`, active, id)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	ts := at.UTC().Format(sqliteTimeLayout)
	_, err := s.db.ExecContext(ctx, `UPDATE alert_rules SET last_triggered_at = ?
        WHERE id = ? AND (last_triggered_at IS NULL OR last_triggered_at < ?);`, ts, id, ts)
	if err != nil {
		return fmt.Errorf("mark rule triggered: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	event = prepareEvent(event)
	_, err := s.db.ExecContext(ctx, `INSERT INTO alert_events (
        id, owner_id, rule_id, symbol, timeframe, trigger_type, trigger_value,
        trend_bias, volatility, confidence, cooldown_seconds, outcome, created_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		event.ID, event.Owner, event.RuleID, event.Symbol, event.Timeframe,
		string(event.TriggerType), formatNumeric(event.TriggerValue),
		string(event.Context.TrendBias), event.Context.Volatility, event.Context.Confidence,
		event.Context.CooldownSeconds, string(event.Outcome),
		event.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return AlertEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

func (s *SQLiteStore) ListPendingEvents(ctx context.Context, after PendingCursor, limit int) ([]AlertEvent, error) {
	ts := after.CreatedAt.UTC().Format(sqliteTimeLayout)
	return s.queryEvents(ctx, `SELECT `+sqliteEventColumns+` FROM alert_events
        WHERE outcome = 'PENDING' AND trigger_value IS NOT NULL
          AND (created_at > ? OR (created_at = ? AND id > ?))
        ORDER BY created_at, id LIMIT ?;`, ts, ts, after.ID, normalizeLimit(limit, 20))
}

func (s *SQLiteStore) ClassifyEvent(ctx context.Context, id string, c Classification) (bool, error) {
	price := c.EvaluationPrice
	res, err := s.db.ExecContext(ctx, `UPDATE alert_events
        SET outcome = ?, evaluated_at = ?, evaluation_price = ?
        WHERE id = ? AND outcome = 'PENDING';`,
		string(c.Outcome), c.EvaluatedAt.UTC().Format(sqliteTimeLayout), formatNumeric(&price), id)
	if err != nil {
		return false, fmt.Errorf("classify event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("classify event: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]AlertEvent, error) {
	clauses := []string{"1 = 1"}
	args := make([]interface{}, 0, 5)
	if filter.Owner != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, filter.Owner)
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(sqliteTimeLayout))
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filter.To.UTC().Format(sqliteTimeLayout))
	}
	if filter.SettledOnly {
		clauses = append(clauses, "outcome <> 'PENDING'")
	}
	args = append(args, normalizeLimit(filter.Limit, 100))

	query := `SELECT ` + sqliteEventColumns + ` FROM alert_events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC LIMIT ?;`
	return s.queryEvents(ctx, query, args...)
}

const (
	sqliteRuleColumns = `id, owner_id, symbol, timeframe, indicator, params, condition, threshold,
        trigger_type, side, is_active, cooldown_seconds, last_triggered_at, created_at`
	sqliteEventColumns = `id, owner_id, rule_id, symbol, timeframe, trigger_type, trigger_value,
        trend_bias, volatility, confidence, cooldown_seconds, evaluation_price, outcome,
        evaluated_at, created_at`
)

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		var (
			rule          AlertRule
			params        string
			condition     string
			threshold     sql.NullString
			trigger, side string
			lastTriggered sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&rule.ID, &rule.Owner, &rule.Symbol, &rule.Timeframe, &rule.Logic.Indicator,
			&params, &condition, &threshold, &trigger, &side, &rule.Active, &rule.CooldownSeconds,
			&lastTriggered, &createdAt); err != nil {
			return nil, err
		}
		if rule.LastTriggeredAt, err = parseTime(lastTriggered); err != nil {
			return nil, err
		}
		if rule.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rule, err = finishRule(rule, []byte(params), condition, threshold, trigger, side)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0)
	for rows.Next() {
		var (
			event            AlertEvent
			trigger, bias    string
			value, evalPrice sql.NullString
			outcome          string
			evaluatedAt      sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&event.ID, &event.Owner, &event.RuleID, &event.Symbol, &event.Timeframe,
			&trigger, &value, &bias, &event.Context.Volatility, &event.Context.Confidence,
			&event.Context.CooldownSeconds, &evalPrice, &outcome, &evaluatedAt, &createdAt); err != nil {
			return nil, err
		}
		if event.EvaluatedAt, err = parseTime(evaluatedAt); err != nil {
			return nil, err
		}
		if event.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		event, err = finishEvent(event, trigger, value, bias, evalPrice, outcome)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

var _ Backend = (*SQLiteStore)(nil)
