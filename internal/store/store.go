// Package store provides storage backends for CoverageNavigator.
//
// Each backend persists one FlowState snapshot per session. Chat history is
// never written.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// Store persists session snapshots.
type Store interface {
	// SaveFlowState inserts or replaces the snapshot for state.SessionID.
	SaveFlowState(ctx context.Context, state models.FlowState) error
	// GetFlowState returns nil, nil when no snapshot exists.
	GetFlowState(ctx context.Context, sessionID string) (*models.FlowState, error)
	DeleteFlowState(ctx context.Context, sessionID string) error
	// PurgeFlowStates deletes snapshots last updated before the cutoff.
	PurgeFlowStates(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	Driver string
	DSN    string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with a database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.Driver = "sqlite3"
		o.DSN = dsn
	}
}

// WithPostgresDSN selects the Postgres backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.Driver = "postgres"
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for URL or key=value Postgres DSNs and
// "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return "postgres"
	}
	for _, field := range strings.Fields(trimmed) {
		key, _, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "host", "user", "dbname", "password", "port", "sslmode":
			return "postgres"
		}
	}
	return "sqlite3"
}

// New opens the backend selected by opts. Without a DSN the in-memory store
// is returned.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.New: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Driver == "postgres":
		return NewPostgresStore(opts...)
	case cfg.Driver == "sqlite3":
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// InMemoryStore keeps snapshots in process memory. Values are stored in
// their JSON form so callers never share state with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
	times  map[string]time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string][]byte),
		times:  make(map[string]time.Time),
	}
}

func (s *InMemoryStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	data, err := encodeFlowState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[state.SessionID] = data
	s.times[state.SessionID] = state.UpdatedAt
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetFlowState(ctx context.Context, sessionID string) (*models.FlowState, error) {
	s.mu.RLock()
	data, ok := s.states[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeFlowState(sessionID, data)
}

func (s *InMemoryStore) DeleteFlowState(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.states, sessionID)
	delete(s.times, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) PurgeFlowStates(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, updated := range s.times {
		if updated.Before(before) {
			delete(s.states, id)
			delete(s.times, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
