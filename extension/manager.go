package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/google/uuid"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmitter sets where dashboard data changes are published.
func WithEmitter(e *events.Emitter) Option {
	return func(m *Manager) { m.events = e }
}

// WithSites sets the site store dashboard plugins list pages from.
func WithSites(s store.SiteStore) Option {
	return func(m *Manager) { m.sites = s }
}

// Manager owns the open builder and dashboard sessions.
type Manager struct {
	runner Runner
	docs   store.PluginDataStore
	sites  store.SiteStore
	events *events.Emitter
	logger *slog.Logger

	mu         sync.RWMutex
	builders   map[string]*BuilderSession
	dashboards map[string]*DashboardSession
}

// NewManager creates a Manager that runs plugin code with runner.
func NewManager(runner Runner, docs store.PluginDataStore, opts ...Option) *Manager {
	m := &Manager{
		runner:     runner,
		docs:       docs,
		logger:     slog.Default(),
		builders:   make(map[string]*BuilderSession),
		dashboards: make(map[string]*DashboardSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenBuilder parses the site's page tree, runs the plugins' Builder
// entrypoints against it and registers the session.
func (m *Manager) OpenBuilder(ctx context.Context, userID uuid.UUID, site *store.Site, plugins []*store.Plugin) (*BuilderSession, error) {
	tree, err := pagetree.Parse(site.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	s := newBuilderSession(ctx, userID, site.ID, tree, m.docs, m.logger)
	s.load(ctx, m.runner, plugins)

	m.mu.Lock()
	m.builders[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("builder session opened", "session", s.ID, "site", site.ID, "plugins", len(plugins))
	return s, nil
}

// Builder returns the user's builder session.
func (m *Manager) Builder(id string, userID uuid.UUID) (*BuilderSession, error) {
	m.mu.RLock()
	s, ok := m.builders[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: builder session %s", store.ErrNotFound, id)
	}
	if s.UserID != userID {
		return nil, fmt.Errorf("%w: builder session %s", store.ErrForbidden, id)
	}
	s.touch()
	return s, nil
}

// CloseBuilder ends a builder session.
func (m *Manager) CloseBuilder(id string, userID uuid.UUID) error {
	s, err := m.Builder(id, userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.builders, id)
	m.mu.Unlock()
	s.Close()
	return nil
}

// OpenDashboard runs the plugins' Dashboard entrypoints in a new session.
func (m *Manager) OpenDashboard(ctx context.Context, userID uuid.UUID, plugins []*store.Plugin) *DashboardSession {
	s := newDashboardSession(ctx, userID, m.docs, m.sites, m.events, m.logger)
	s.load(ctx, m.runner, plugins)

	m.mu.Lock()
	m.dashboards[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("dashboard session opened", "session", s.ID, "plugins", len(plugins))
	return s
}

// Dashboard returns the user's dashboard session.
func (m *Manager) Dashboard(id string, userID uuid.UUID) (*DashboardSession, error) {
	m.mu.RLock()
	s, ok := m.dashboards[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dashboard session %s", store.ErrNotFound, id)
	}
	if s.UserID != userID {
		return nil, fmt.Errorf("%w: dashboard session %s", store.ErrForbidden, id)
	}
	s.touch()
	return s, nil
}

// CloseDashboard ends a dashboard session.
func (m *Manager) CloseDashboard(id string, userID uuid.UUID) error {
	if _, err := m.Dashboard(id, userID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.dashboards, id)
	m.mu.Unlock()
	return nil
}

// Counts returns the number of open builder and dashboard sessions.
func (m *Manager) Counts() (builders, dashboards int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.builders), len(m.dashboards)
}

// Sweep closes sessions idle for longer than maxIdle and returns how many it
// closed.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []*BuilderSession
	n := 0

	m.mu.Lock()
	for id, s := range m.builders {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.builders, id)
		}
	}
	for id, s := range m.dashboards {
		if s.idleSince().Before(cutoff) {
			delete(m.dashboards, id)
			n++
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	n += len(stale)
	if n > 0 {
		m.logger.Info("swept idle sessions", "count", n)
	}
	return n
}

// RunSweeper sweeps idle sessions every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(maxIdle)
		}
	}
}
