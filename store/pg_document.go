package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDocumentStore implements PluginDataStore backed by PostgreSQL.
type PGDocumentStore struct {
	pool *pgxpool.Pool
}

const pgDocumentColumns = `id, user_id, plugin_id, collection, data, created_at, updated_at`

func (s *PGDocumentStore) List(ctx context.Context, scope Scope) ([]*PluginDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.list(ctx, `SELECT `+pgDocumentColumns+` FROM plugin_documents
		WHERE user_id = $1 AND plugin_id = $2 AND collection = $3
		ORDER BY created_at DESC`,
		scope.UserID, scope.PluginID, scope.Collection)
}

func (s *PGDocumentStore) ListPublic(ctx context.Context, pluginID, collection string) ([]*PluginDocument, error) {
	return s.list(ctx, `SELECT `+pgDocumentColumns+` FROM plugin_documents
		WHERE plugin_id = $1 AND collection = $2
		ORDER BY created_at DESC`,
		pluginID, collection)
}

func (s *PGDocumentStore) Get(ctx context.Context, scope Scope, id uuid.UUID) (*PluginDocument, error) {
	return s.one(ctx, `SELECT `+pgDocumentColumns+` FROM plugin_documents
		WHERE id = $1 AND user_id = $2 AND plugin_id = $3 AND collection = $4`,
		id, scope.UserID, scope.PluginID, scope.Collection)
}

func (s *PGDocumentStore) Create(ctx context.Context, d *PluginDocument) error {
	scope := Scope{UserID: d.UserID, PluginID: d.PluginID, Collection: d.Collection}
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := validJSON(d.Data); err != nil {
		return err
	}
	d.ID = uuid.New()
	now := nowMicros()
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plugin_documents (`+pgDocumentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		d.ID, d.UserID, d.PluginID, d.Collection, string(d.Data), now)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PGDocumentStore) Update(ctx context.Context, scope Scope, id uuid.UUID, data json.RawMessage) (*PluginDocument, error) {
	if err := validJSON(data); err != nil {
		return nil, err
	}
	return s.one(ctx, `
		UPDATE plugin_documents
		SET data = $1, updated_at = GREATEST($2, updated_at + interval '1 microsecond')
		WHERE id = $3 AND user_id = $4 AND plugin_id = $5 AND collection = $6
		RETURNING `+pgDocumentColumns,
		string(data), nowMicros(), id, scope.UserID, scope.PluginID, scope.Collection)
}

func (s *PGDocumentStore) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM plugin_documents
		WHERE id = $1 AND user_id = $2 AND plugin_id = $3 AND collection = $4`,
		id, scope.UserID, scope.PluginID, scope.Collection)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGDocumentStore) one(ctx context.Context, query string, args ...any) (*PluginDocument, error) {
	docs, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (s *PGDocumentStore) list(ctx context.Context, query string, args ...any) ([]*PluginDocument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []*PluginDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func scanDocument(rows pgx.Rows) (*PluginDocument, error) {
	var d PluginDocument
	err := rows.Scan(&d.ID, &d.UserID, &d.PluginID, &d.Collection, &d.Data, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
