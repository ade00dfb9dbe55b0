package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMediaStore implements MediaStore backed by PostgreSQL.
type PGMediaStore struct {
	pool *pgxpool.Pool
}

const pgMediaColumns = `id, filename, storage_key, url, content_type, size, uploaded_by, created_at`

func (s *PGMediaStore) Create(ctx context.Context, m *Media) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = nowMicros()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media (`+pgMediaColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.Filename, m.Key, m.URL, m.ContentType, m.Size, m.UploadedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

func (s *PGMediaStore) Get(ctx context.Context, id uuid.UUID) (*Media, error) {
	items, err := s.list(ctx, `SELECT `+pgMediaColumns+` FROM media WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *PGMediaStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGMediaStore) List(ctx context.Context) ([]*Media, error) {
	return s.list(ctx, `SELECT `+pgMediaColumns+` FROM media ORDER BY created_at DESC`)
}

func (s *PGMediaStore) list(ctx context.Context, query string, args ...any) ([]*Media, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	items := []*Media{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func scanMedia(rows pgx.Rows) (*Media, error) {
	var m Media
	if err := rows.Scan(&m.ID, &m.Filename, &m.Key, &m.URL, &m.ContentType, &m.Size,
		&m.UploadedBy, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan media: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
