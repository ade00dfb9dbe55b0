package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteMediaStore implements MediaStore backed by SQLite.
type SQLiteMediaStore struct {
	db *sql.DB
}

const sqliteMediaColumns = `id, filename, storage_key, url, content_type, size, uploaded_by, created_at`

func (s *SQLiteMediaStore) Create(ctx context.Context, m *Media) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = nowMicros()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (`+sqliteMediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Filename, m.Key, m.URL, m.ContentType, m.Size, m.UploadedBy.String(),
		toMicros(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

func (s *SQLiteMediaStore) Get(ctx context.Context, id uuid.UUID) (*Media, error) {
	m, err := scanSQLiteMedia(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMediaColumns+` FROM media WHERE id = ?`, id.String()))
	if err != nil {
		return nil, notFoundOr(err, "query media")
	}
	return m, nil
}

func (s *SQLiteMediaStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteMediaStore) List(ctx context.Context) ([]*Media, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMediaColumns+` FROM media ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := []*Media{}
	for rows.Next() {
		m, err := scanSQLiteMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func scanSQLiteMedia(row rowScanner) (*Media, error) {
	var (
		m         Media
		id, owner string
		created   int64
	)
	if err := row.Scan(&id, &m.Filename, &m.Key, &m.URL, &m.ContentType, &m.Size, &owner, &created); err != nil {
		return nil, err
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse media id: %w", err)
	}
	if m.UploadedBy, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("parse media owner: %w", err)
	}
	m.CreatedAt = fromMicros(created)
	return &m, nil
}
