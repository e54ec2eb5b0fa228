package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the addressed rule or event does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

//go:embed schema/*.sql
var schemaFS embed.FS

// RuleStore is the alert rule collection.
type RuleStore interface {
	CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error)
	ListActiveRules(ctx context.Context) ([]AlertRule, error)
	ListRules(ctx context.Context, owner string) ([]AlertRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
	DeleteRule(ctx context.Context, id string) error
	// MarkTriggered moves lastTriggeredAt forward; older timestamps are ignored.
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// EventStore is the fired alert collection.
type EventStore interface {
	CreateEvent(ctx context.Context, event AlertEvent) (AlertEvent, error)
	// ListPendingEvents pages through pending events with a trigger value in
	// (createdAt, id) order, starting strictly after the cursor. The zero
	// cursor starts from the oldest event.
	ListPendingEvents(ctx context.Context, after PendingCursor, limit int) ([]AlertEvent, error)
	// ClassifyEvent settles a pending event. It reports false when the event
	// was already settled, leaving it untouched.
	ClassifyEvent(ctx context.Context, id string, c Classification) (bool, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]AlertEvent, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend bundles both collections with a release hook.
type Backend interface {
	RuleStore
	EventStore
	Close()
}

// PendingCursor marks a position in the pending queue.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAt returns the cursor positioned on event.
func CursorAt(event AlertEvent) PendingCursor {
	return PendingCursor{CreatedAt: event.CreatedAt, ID: event.ID}
}

// IsZero reports whether c starts from the beginning of the queue.
func (c PendingCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Before reports whether event sorts strictly after c.
func (c PendingCursor) Before(event AlertEvent) bool {
	if !event.CreatedAt.Equal(c.CreatedAt) {
		return event.CreatedAt.After(c.CreatedAt)
	}
	return event.ID > c.ID
}

// EventFilter narrows ListEvents. Results are newest first.
type EventFilter struct {
	Owner       string
	From        *time.Time
	To          *time.Time
	SettledOnly bool
	Limit       int
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewStore(pool)
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func loadSchema(name string) (string, error) {
	raw, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("load schema %s: %w", name, err)
	}
	return string(raw), nil
}

func newID() string {
	return uuid.NewString()
}

func formatNumeric(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return decimal.NewFromFloat(*v).String()
}

func parseNumeric(v sql.NullString) (*float64, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", v.String, err)
	}
	f := d.InexactFloat64()
	return &f, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
