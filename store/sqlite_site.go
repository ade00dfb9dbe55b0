package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteSiteStore implements SiteStore backed by SQLite.
type SQLiteSiteStore struct {
	db *sql.DB
}

const sqliteSiteColumns = `id, name, slug, content, owner_id, published, created_at, updated_at`

func (s *SQLiteSiteStore) Create(ctx context.Context, site *Site) error {
	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}
	now := nowMicros()
	site.CreatedAt, site.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (`+sqliteSiteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID.String(), site.Name, site.Slug, site.Content, site.OwnerID.String(), site.Published,
		toMicros(now), toMicros(now))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: site slug %s", ErrDuplicate, site.Slug)
		}
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func (s *SQLiteSiteStore) Get(ctx context.Context, id uuid.UUID) (*Site, error) {
	site, err := scanSQLiteSite(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSiteColumns+` FROM sites WHERE id = ?`, id.String()))
	if err != nil {
		return nil, notFoundOr(err, "query site")
	}
	return site, nil
}

func (s *SQLiteSiteStore) GetBySlug(ctx context.Context, slug string) (*Site, error) {
	site, err := scanSQLiteSite(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSiteColumns+` FROM sites WHERE slug = ?`, slug))
	if err != nil {
		return nil, notFoundOr(err, "query site")
	}
	return site, nil
}

func (s *SQLiteSiteStore) Update(ctx context.Context, site *Site) error {
	site.UpdatedAt = nowMicros()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sites SET name = ?, slug = ?, content = ?, published = ?, updated_at = ? WHERE id = ?`,
		site.Name, site.Slug, site.Content, site.Published, toMicros(site.UpdatedAt), site.ID.String())
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: site slug %s", ErrDuplicate, site.Slug)
		}
		return fmt.Errorf("update site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteSiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM form_responses WHERE site_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete site form responses: %w", err)
	}
	return nil
}

func (s *SQLiteSiteStore) List(ctx context.Context, f SiteFilter) ([]*Site, error) {
	query := `SELECT ` + sqliteSiteColumns + ` FROM sites WHERE 1=1`
	var args []any
	if f.OwnerID != nil {
		query += " AND owner_id = ?"
		args = append(args, f.OwnerID.String())
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	sites := []*Site{}
	for rows.Next() {
		site, err := scanSQLiteSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func scanSQLiteSite(row rowScanner) (*Site, error) {
	var (
		site             Site
		id, owner        string
		created, updated int64
	)
	if err := row.Scan(&id, &site.Name, &site.Slug, &site.Content, &owner, &site.Published,
		&created, &updated); err != nil {
		return nil, err
	}
	var err error
	if site.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse site id: %w", err)
	}
	if site.OwnerID, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("parse site owner: %w", err)
	}
	site.CreatedAt = fromMicros(created)
	site.UpdatedAt = fromMicros(updated)
	return &site, nil
}
