package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore wraps a pgxpool.Pool and provides access to all domain stores.
type PGStore struct {
	pool *pgxpool.Pool

	users     *PGUserStore
	plugins   *PGPluginStore
	documents *PGDocumentStore
	sites     *PGSiteStore
	media     *PGMediaStore
	forms     *PGFormStore
}

// NewPGStore connects to PostgreSQL, applies pending migrations and returns
// a PGStore with all sub-stores.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	if _, err := NewMigrator(pool).Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PGStore{pool: pool}
	s.users = &PGUserStore{pool: pool}
	s.plugins = &PGPluginStore{pool: pool}
	s.documents = &PGDocumentStore{pool: pool}
	s.sites = &PGSiteStore{pool: pool}
	s.media = &PGMediaStore{pool: pool}
	s.forms = &PGFormStore{pool: pool}
	return s, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Users returns the UserStore.
func (s *PGStore) Users() UserStore { return s.users }

// Plugins returns the PluginStore.
func (s *PGStore) Plugins() PluginStore { return s.plugins }

// Documents returns the PluginDataStore.
func (s *PGStore) Documents() PluginDataStore { return s.documents }

// Sites returns the SiteStore.
func (s *PGStore) Sites() SiteStore { return s.sites }

// Media returns the MediaStore.
func (s *PGStore) Media() MediaStore { return s.media }

// Forms returns the FormStore.
func (s *PGStore) Forms() FormStore { return s.forms }

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
