package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSiteStore implements SiteStore backed by PostgreSQL.
type PGSiteStore struct {
	pool *pgxpool.Pool
}

const pgSiteColumns = `id, name, slug, content, owner_id, published, created_at, updated_at`

func (s *PGSiteStore) Create(ctx context.Context, site *Site) error {
	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}
	now := nowMicros()
	site.CreatedAt, site.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sites (`+pgSiteColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		site.ID, site.Name, site.Slug, site.Content, site.OwnerID, site.Published, now)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: site slug %s", ErrDuplicate, site.Slug)
		}
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func (s *PGSiteStore) Get(ctx context.Context, id uuid.UUID) (*Site, error) {
	return s.one(ctx, `SELECT `+pgSiteColumns+` FROM sites WHERE id = $1`, id)
}

func (s *PGSiteStore) GetBySlug(ctx context.Context, slug string) (*Site, error) {
	return s.one(ctx, `SELECT `+pgSiteColumns+` FROM sites WHERE slug = $1`, slug)
}

func (s *PGSiteStore) Update(ctx context.Context, site *Site) error {
	site.UpdatedAt = nowMicros()
	tag, err := s.pool.Exec(ctx, `
		UPDATE sites SET name=$2, slug=$3, content=$4, published=$5, updated_at=$6
		WHERE id=$1`,
		site.ID, site.Name, site.Slug, site.Content, site.Published, site.UpdatedAt)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: site slug %s", ErrDuplicate, site.Slug)
		}
		return fmt.Errorf("update site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSiteStore) List(ctx context.Context, f SiteFilter) ([]*Site, error) {
	query := `SELECT ` + pgSiteColumns + ` FROM sites WHERE 1=1`
	args := []any{}
	if f.OwnerID != nil {
		query += ` AND owner_id = $1`
		args = append(args, *f.OwnerID)
	}
	query += ` ORDER BY updated_at DESC`
	return s.list(ctx, query, args...)
}

func (s *PGSiteStore) one(ctx context.Context, query string, args ...any) (*Site, error) {
	sites, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return nil, ErrNotFound
	}
	return sites[0], nil
}

func (s *PGSiteStore) list(ctx context.Context, query string, args ...any) ([]*Site, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	sites := []*Site{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func scanSite(rows pgx.Rows) (*Site, error) {
	var site Site
	err := rows.Scan(&site.ID, &site.Name, &site.Slug, &site.Content, &site.OwnerID, &site.Published,
		&site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan site: %w", err)
	}
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return &site, nil
}
