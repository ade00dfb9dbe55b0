package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGFormStore implements FormStore backed by PostgreSQL.
type PGFormStore struct {
	pool *pgxpool.Pool
}

func (s *PGFormStore) Create(ctx context.Context, f *FormResponse) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.FormID == "" {
		f.FormID = DefaultFormID
	}
	f.SubmittedAt = nowMicros()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO form_responses (id, site_id, form_id, data, submitted_at)
		VALUES ($1,$2,$3,$4,$5)`,
		f.ID, f.SiteID, f.FormID, f.Data, f.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert form response: %w", err)
	}
	return nil
}

func (s *PGFormStore) ListBySite(ctx context.Context, siteID uuid.UUID) ([]*FormResponse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, site_id, form_id, data, submitted_at FROM form_responses
		WHERE site_id = $1 ORDER BY submitted_at DESC`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list form responses: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*FormResponse, error) {
		var f FormResponse
		if err := row.Scan(&f.ID, &f.SiteID, &f.FormID, &f.Data, &f.SubmittedAt); err != nil {
			return nil, err
		}
		f.SubmittedAt = f.SubmittedAt.UTC()
		return &f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan form responses: %w", err)
	}
	if out == nil {
		out = []*FormResponse{}
	}
	return out, nil
}
