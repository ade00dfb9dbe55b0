package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteDocumentStore implements PluginDataStore backed by SQLite.
type SQLiteDocumentStore struct {
	db *sql.DB
}

const sqliteDocumentColumns = `id, user_id, plugin_id, collection, data, created_at, updated_at`

func (s *SQLiteDocumentStore) List(ctx context.Context, scope Scope) ([]*PluginDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.list(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM plugin_documents
		 WHERE user_id = ? AND plugin_id = ? AND collection = ?
		 ORDER BY created_at DESC, rowid DESC`,
		scope.UserID.String(), scope.PluginID, scope.Collection)
}

func (s *SQLiteDocumentStore) ListPublic(ctx context.Context, pluginID, collection string) ([]*PluginDocument, error) {
	return s.list(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM plugin_documents
		 WHERE plugin_id = ? AND collection = ?
		 ORDER BY created_at DESC, rowid DESC`,
		pluginID, collection)
}

func (s *SQLiteDocumentStore) Get(ctx context.Context, scope Scope, id uuid.UUID) (*PluginDocument, error) {
	d, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM plugin_documents
		 WHERE id = ? AND user_id = ? AND plugin_id = ? AND collection = ?`,
		id.String(), scope.UserID.String(), scope.PluginID, scope.Collection))
	if err != nil {
		return nil, notFoundOr(err, "query document")
	}
	return d, nil
}

func (s *SQLiteDocumentStore) Create(ctx context.Context, d *PluginDocument) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_documents (`+sqliteDocumentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.UserID.String(), d.PluginID, d.Collection, string(d.Data),
		toMicros(now), toMicros(now))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteDocumentStore) Update(ctx context.Context, scope Scope, id uuid.UUID, data json.RawMessage) (*PluginDocument, error) {
	if err := validJSON(data); err != nil {
		return nil, err
	}
	d, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`UPDATE plugin_documents SET data = ?, updated_at = MAX(?, updated_at + 1)
		 WHERE id = ? AND user_id = ? AND plugin_id = ? AND collection = ?
		 RETURNING `+sqliteDocumentColumns,
		string(data), toMicros(nowMicros()),
		id.String(), scope.UserID.String(), scope.PluginID, scope.Collection))
	if err != nil {
		return nil, notFoundOr(err, "update document")
	}
	return d, nil
}

func (s *SQLiteDocumentStore) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_documents WHERE id = ? AND user_id = ? AND plugin_id = ? AND collection = ?`,
		id.String(), scope.UserID.String(), scope.PluginID, scope.Collection)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDocumentStore) list(ctx context.Context, query string, args ...any) ([]*PluginDocument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*PluginDocument{}
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func scanSQLiteDocument(row rowScanner) (*PluginDocument, error) {
	var (
		d                PluginDocument
		id, userID, data string
		created, updated int64
	)
	if err := row.Scan(&id, &userID, &d.PluginID, &d.Collection, &data, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	if d.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse document owner: %w", err)
	}
	d.Data = json.RawMessage(data)
	d.CreatedAt = fromMicros(created)
	d.UpdatedAt = fromMicros(updated)
	return &d, nil
}
