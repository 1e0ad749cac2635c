package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists snapshots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

// SaveFlowState stores or replaces the snapshot of a session.
func (s *PostgresStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	data, err := encodeFlowState(state)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO flow_states (session_id, current_step, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id)
		DO UPDATE SET
			current_step = EXCLUDED.current_step,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, state.SessionID, string(state.CurrentStep), data, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save flow state %s: %w", state.SessionID, err)
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "sessionID", state.SessionID, "step", state.CurrentStep)
	return nil
}

// GetFlowState retrieves the snapshot of a session.
func (s *PostgresStore) GetFlowState(ctx context.Context, sessionID string) (*models.FlowState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_data FROM flow_states WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetFlowState not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load flow state %s: %w", sessionID, err)
	}
	return decodeFlowState(sessionID, data)
}

// DeleteFlowState removes the snapshot of a session.
func (s *PostgresStore) DeleteFlowState(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete flow state %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore DeleteFlowState succeeded", "sessionID", sessionID)
	return nil
}

// PurgeFlowStates deletes snapshots not updated since before.
func (s *PostgresStore) PurgeFlowStates(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE updated_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PurgeFlowStates failed", "error", err)
		return 0, fmt.Errorf("failed to purge flow states: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
