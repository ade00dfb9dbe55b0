package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGPluginStore implements PluginStore backed by PostgreSQL.
type PGPluginStore struct {
	pool *pgxpool.Pool
}

const pgPluginColumns = `p.id, p.name, p.description, p.icon, p.code, p.is_official, p.created_by, p.version, p.created_at`

func (s *PGPluginStore) Create(ctx context.Context, p *Plugin) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowMicros()
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plugins (id, name, description, icon, code, is_official, created_by, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Name, p.Description, p.Icon, p.Code, p.IsOfficial, p.CreatedBy, p.Version, p.CreatedAt)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: plugin %s", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("insert plugin: %w", err)
	}
	return nil
}

func (s *PGPluginStore) Get(ctx context.Context, id string) (*Plugin, error) {
	plugins, err := s.list(ctx, `SELECT `+pgPluginColumns+` FROM plugins p WHERE p.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(plugins) == 0 {
		return nil, ErrNotFound
	}
	return plugins[0], nil
}

func (s *PGPluginStore) Update(ctx context.Context, p *Plugin) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plugins SET name=$2, description=$3, icon=$4, code=$5, is_official=$6, created_by=$7, version=$8
		WHERE id=$1`,
		p.ID, p.Name, p.Description, p.Icon, p.Code, p.IsOfficial, p.CreatedBy, p.Version)
	if err != nil {
		return fmt.Errorf("update plugin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGPluginStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plugins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGPluginStore) ListOfficial(ctx context.Context) ([]*Plugin, error) {
	return s.list(ctx, `SELECT `+pgPluginColumns+` FROM plugins p WHERE p.is_official ORDER BY p.name`)
}

func (s *PGPluginStore) ListInstalledOrOwned(ctx context.Context, userID uuid.UUID) ([]*Plugin, error) {
	return s.list(ctx, `SELECT `+pgPluginColumns+` FROM plugins p
		LEFT JOIN installed_plugins ip ON ip.plugin_id = p.id AND ip.user_id = $1
		WHERE (p.is_official AND ip.seq IS NOT NULL) OR (NOT p.is_official AND p.created_by = $1)
		ORDER BY p.is_official DESC, ip.seq, p.created_at`, userID)
}

func (s *PGPluginStore) list(ctx context.Context, query string, args ...any) ([]*Plugin, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	plugins := []*Plugin{}
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

func scanPlugin(rows pgx.Rows) (*Plugin, error) {
	var p Plugin
	err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.Code, &p.IsOfficial,
		&p.CreatedBy, &p.Version, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan plugin: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
