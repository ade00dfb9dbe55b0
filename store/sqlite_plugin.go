package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SQLitePluginStore implements PluginStore backed by SQLite.
type SQLitePluginStore struct {
	db *sql.DB
}

const sqlitePluginColumns = `p.id, p.name, p.description, p.icon, p.code, p.is_official, p.created_by, p.version, p.created_at`

func (s *SQLitePluginStore) Create(ctx context.Context, p *Plugin) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowMicros()
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (id, name, description, icon, code, is_official, created_by, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Icon, p.Code, p.IsOfficial, nullableUUID(p.CreatedBy),
		p.Version, toMicros(p.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: plugin %s", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("insert plugin: %w", err)
	}
	return nil
}

func (s *SQLitePluginStore) Get(ctx context.Context, id string) (*Plugin, error) {
	p, err := scanSQLitePlugin(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePluginColumns+` FROM plugins p WHERE p.id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "query plugin")
	}
	return p, nil
}

func (s *SQLitePluginStore) Update(ctx context.Context, p *Plugin) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plugins SET name = ?, description = ?, icon = ?, code = ?, is_official = ?, created_by = ?, version = ?
		 WHERE id = ?`,
		p.Name, p.Description, p.Icon, p.Code, p.IsOfficial, nullableUUID(p.CreatedBy), p.Version, p.ID)
	if err != nil {
		return fmt.Errorf("update plugin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLitePluginStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLitePluginStore) ListOfficial(ctx context.Context) ([]*Plugin, error) {
	return s.list(ctx, `SELECT `+sqlitePluginColumns+` FROM plugins p WHERE p.is_official = 1 ORDER BY p.name`)
}

func (s *SQLitePluginStore) ListInstalledOrOwned(ctx context.Context, userID uuid.UUID) ([]*Plugin, error) {
	return s.list(ctx, `SELECT `+sqlitePluginColumns+` FROM plugins p
		LEFT JOIN installed_plugins ip ON ip.plugin_id = p.id AND ip.user_id = ?
		WHERE (p.is_official = 1 AND ip.seq IS NOT NULL) OR (p.is_official = 0 AND p.created_by = ?)
		ORDER BY p.is_official DESC, ip.seq, p.created_at`, userID.String(), userID.String())
}

func (s *SQLitePluginStore) list(ctx context.Context, query string, args ...any) ([]*Plugin, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	plugins := []*Plugin{}
	for rows.Next() {
		p, err := scanSQLitePlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

func scanSQLitePlugin(row rowScanner) (*Plugin, error) {
	var (
		p         Plugin
		createdBy sql.NullString
		created   int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.Code, &p.IsOfficial,
		&createdBy, &p.Version, &created); err != nil {
		return nil, err
	}
	if createdBy.Valid && createdBy.String != "" {
		id, err := uuid.Parse(createdBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse plugin owner: %w", err)
		}
		p.CreatedBy = &id
	}
	p.CreatedAt = fromMicros(created)
	return &p, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
