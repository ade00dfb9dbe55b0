package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteFormStore implements FormStore backed by SQLite.
type SQLiteFormStore struct {
	db *sql.DB
}

func (s *SQLiteFormStore) Create(ctx context.Context, f *FormResponse) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.FormID == "" {
		f.FormID = DefaultFormID
	}
	f.SubmittedAt = nowMicros()
	data, err := json.Marshal(f.Data)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO form_responses (id, site_id, form_id, data, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID.String(), f.SiteID.String(), f.FormID, string(data), toMicros(f.SubmittedAt))
	if err != nil {
		return fmt.Errorf("insert form response: %w", err)
	}
	return nil
}

func (s *SQLiteFormStore) ListBySite(ctx context.Context, siteID uuid.UUID) ([]*FormResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, form_id, data, submitted_at FROM form_responses
		WHERE site_id = ? ORDER BY submitted_at DESC, rowid DESC`, siteID.String())
	if err != nil {
		return nil, fmt.Errorf("list form responses: %w", err)
	}
	defer rows.Close()

	out := []*FormResponse{}
	for rows.Next() {
		var (
			f              FormResponse
			id, site, data string
			submitted      int64
		)
		if err := rows.Scan(&id, &site, &f.FormID, &data, &submitted); err != nil {
			return nil, fmt.Errorf("scan form response: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse form response id: %w", err)
		}
		if f.SiteID, err = uuid.Parse(site); err != nil {
			return nil, fmt.Errorf("parse form response site: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &f.Data); err != nil {
			return nil, fmt.Errorf("decode form data: %w", err)
		}
		f.SubmittedAt = fromMicros(submitted)
		out = append(out, &f)
	}
	return out, rows.Err()
}
