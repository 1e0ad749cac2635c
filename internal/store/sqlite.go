package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists snapshots in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(dsn); path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied")
	return &SQLiteStore{db: db}, nil
}

// sqlitePath strips the file: prefix and query parameters from a DSN.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// SaveFlowState stores or replaces the snapshot of a session.
func (s *SQLiteStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	data, err := encodeFlowState(state)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO flow_states (session_id, current_step, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			current_step = excluded.current_step,
			state_data = excluded.state_data,
			updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, state.SessionID, string(state.CurrentStep), string(data), state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save flow state %s: %w", state.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "sessionID", state.SessionID, "step", state.CurrentStep)
	return nil
}

// GetFlowState retrieves the snapshot of a session.
func (s *SQLiteStore) GetFlowState(ctx context.Context, sessionID string) (*models.FlowState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state_data FROM flow_states WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetFlowState not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load flow state %s: %w", sessionID, err)
	}
	return decodeFlowState(sessionID, []byte(data))
}

// DeleteFlowState removes the snapshot of a session.
func (s *SQLiteStore) DeleteFlowState(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete flow state %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "sessionID", sessionID)
	return nil
}

// PurgeFlowStates deletes snapshots not updated since before.
func (s *SQLiteStore) PurgeFlowStates(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE updated_at < ?`, before.UTC())
	if err != nil {
		slog.Error("SQLiteStore PurgeFlowStates failed", "error", err)
		return 0, fmt.Errorf("failed to purge flow states: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
