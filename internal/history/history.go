// Package history persists terminal recovery sessions and published
// alerts to Postgres for operator review. The orchestrator works
// without it; a nil store simply disables the audit trail.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/alert"
	"github.com/mishramohit437/rdsguard/internal/failover"
)

// Config holds audit database settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Store writes the audit trail.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens the audit database.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing handle, mainly for tests.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the audit tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS failover_sessions (
			id VARCHAR(64) PRIMARY KEY,
			cluster_id VARCHAR(255) NOT NULL,
			manual BOOLEAN NOT NULL DEFAULT FALSE,
			target_endpoint VARCHAR(255),
			snapshot_id VARCHAR(255),
			outcome VARCHAR(32) NOT NULL,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id VARCHAR(64) PRIMARY KEY,
			severity VARCHAR(16) NOT NULL,
			message TEXT NOT NULL,
			correlation_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("history: create table: %w", err)
		}
	}
	return nil
}

// RecordSession stores a terminal recovery session.
func (s *Store) RecordSession(ctx context.Context, sess *failover.Session) error {
	var target, snapshot sql.NullString
	if sess.Target != nil {
		target = sql.NullString{String: sess.Target.ID, Valid: true}
	}
	if sess.Snapshot != nil {
		snapshot = sql.NullString{String: sess.Snapshot.ID, Valid: true}
	}

	query := `INSERT INTO failover_sessions
		(id, cluster_id, manual, target_endpoint, snapshot_id, outcome, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.ClusterID, sess.Manual, target, snapshot,
		string(sess.Outcome), sess.Error, sess.StartedAt, sess.FinishedAt)
	if err != nil {
		return fmt.Errorf("history: insert session: %w", err)
	}
	return nil
}

// RecordAlert stores a published alert event.
func (s *Store) RecordAlert(ctx context.Context, ev alert.Event) error {
	query := `INSERT INTO alert_events (id, severity, message, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Severity), ev.Message, ev.CorrelationID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("history: insert alert: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]*failover.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, cluster_id, manual, outcome, COALESCE(error, ''), started_at, finished_at
		FROM failover_sessions ORDER BY started_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*failover.Session
	for rows.Next() {
		var sess failover.Session
		var outcome string
		var finished sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.ClusterID, &sess.Manual,
			&outcome, &sess.Error, &sess.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		sess.Outcome = failover.Outcome(outcome)
		if finished.Valid {
			sess.FinishedAt = finished.Time
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Sink adapts the store to the alert sink contract so published
// alerts land in the audit trail too.
type Sink struct {
	store *Store
}

// NewSink wraps a store as an alert sink.
func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string { return "history" }

func (s *Sink) Publish(ctx context.Context, ev alert.Event) error {
	return s.store.RecordAlert(ctx, ev)
}
