package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/screener"
	"github.com/BTreeMap/CoverageNavigator/internal/store"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of live sessions kept in memory.
const DefaultCacheSize = 1024

// ManagerOption configures a Manager.
type ManagerOption func(*managerOpts)

type managerOpts struct {
	cacheSize int
}

// WithCacheSize sets how many sessions stay in memory.
func WithCacheSize(n int) ManagerOption {
	return func(o *managerOpts) { o.cacheSize = n }
}

// Manager owns the live sessions. Sessions are cached in memory and every
// change is written to the store, so an evicted or restarted session is
// rebuilt from its snapshot. Chat history lives only in memory.
type Manager struct {
	deps   Deps
	store  store.Store
	cache  *lru.Cache[string, *Session]
	loadMu sync.Mutex
	writes sessionLocks
}

// NewManager creates a Manager over st.
func NewManager(st store.Store, deps Deps, opts ...ManagerOption) (*Manager, error) {
	cfg := managerOpts{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize <= 0 {
		cfg.cacheSize = DefaultCacheSize
	}
	m := &Manager{deps: deps.withDefaults(), store: st}
	cache, err := lru.NewWithEvict(cfg.cacheSize, func(id string, _ *Session) {
		slog.Debug("Manager.cache: session evicted", "session", id)
		m.deps.Recorder.IncSession("evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	m.cache = cache
	slog.Debug("Manager.NewManager: created", "cache_size", cfg.cacheSize)
	return m, nil
}

// Schema returns the screener schema used by every session.
func (m *Manager) Schema() *screener.Schema { return m.deps.Schema }

// Deps returns the shared collaborators.
func (m *Manager) Deps() Deps { return m.deps }

// Create starts a new session on the landing step and persists it.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := newSession(m.deps, uuid.NewString())
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	m.cache.Add(s.ID(), s)
	m.deps.Recorder.IncSession("created")
	slog.Info("Manager.Create: session created", "session", s.ID())
	return s, nil
}

// Get returns a live session, rebuilding it from the store on a cache miss.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s, ok := m.cache.Get(id); ok {
		return s, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if s, ok := m.cache.Get(id); ok {
		return s, nil
	}
	state, err := m.store.GetFlowState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s, err := restoreSession(m.deps, *state)
	if err != nil {
		slog.Error("Manager.Get: snapshot could not be restored", "session", id, "error", err)
		return nil, err
	}
	m.cache.Add(id, s)
	m.deps.Recorder.IncSession("rehydrated")
	slog.Debug("Manager.Get: session rehydrated", "session", id, "step", state.CurrentStep)
	return s, nil
}

// Update applies fn to a session and persists the result when fn succeeds.
// Updates of one session run one at a time, from lookup to store write, so
// snapshots reach the store in the order the changes were made.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock := m.writes.lock(id)
	defer unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return s, err
	}
	return s, m.Save(ctx, s)
}

// Save writes the session snapshot.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if err := m.store.SaveFlowState(ctx, s.Snapshot()); err != nil {
		slog.Error("Manager.Save: failed to persist session", "session", s.ID(), "error", err)
		return fmt.Errorf("failed to persist session %s: %w", s.ID(), err)
	}
	return nil
}

// Purge drops sessions not updated since before, from memory and the store.
func (m *Manager) Purge(ctx context.Context, before time.Time) (int, error) {
	for _, id := range m.cache.Keys() {
		if s, ok := m.cache.Peek(id); ok && s.LastUpdated().Before(before) {
			m.cache.Remove(id)
		}
	}
	n, err := m.store.PurgeFlowStates(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Manager.Purge: removed expired sessions", "count", n)
	}
	return n, nil
}
