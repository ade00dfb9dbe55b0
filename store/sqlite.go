package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB

	users     *SQLiteUserStore
	plugins   *SQLitePluginStore
	documents *SQLiteDocumentStore
	sites     *SQLiteSiteStore
	media     *SQLiteMediaStore
	forms     *SQLiteFormStore
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'editor',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS installed_plugins (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id   TEXT NOT NULL,
		plugin_id TEXT NOT NULL,
		UNIQUE (user_id, plugin_id)
	)`,
	`CREATE TABLE IF NOT EXISTS plugins (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		icon        TEXT NOT NULL DEFAULT '',
		code        TEXT NOT NULL,
		is_official INTEGER NOT NULL DEFAULT 0,
		created_by  TEXT,
		version     TEXT NOT NULL DEFAULT '1.0.0',
		created_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plugin_documents (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		plugin_id  TEXT NOT NULL,
		collection TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plugin_documents_scope
		ON plugin_documents (user_id, plugin_id, collection, created_at)`,
	`CREATE TABLE IF NOT EXISTS sites (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		content    TEXT NOT NULL DEFAULT '',
		owner_id   TEXT NOT NULL,
		published  INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS media (
		id           TEXT PRIMARY KEY,
		filename     TEXT NOT NULL,
		storage_key  TEXT NOT NULL,
		url          TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size         INTEGER NOT NULL DEFAULT 0,
		uploaded_by  TEXT NOT NULL,
		created_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS form_responses (
		id           TEXT PRIMARY KEY,
		site_id      TEXT NOT NULL,
		form_id      TEXT NOT NULL DEFAULT 'default',
		data         TEXT NOT NULL,
		submitted_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_form_responses_site
		ON form_responses (site_id, submitted_at)`,
}

// NewSQLiteStore opens the SQLite database at dbPath and creates the schema
// if it does not already exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	s.users = &SQLiteUserStore{db: db}
	s.plugins = &SQLitePluginStore{db: db}
	s.documents = &SQLiteDocumentStore{db: db}
	s.sites = &SQLiteSiteStore{db: db}
	s.media = &SQLiteMediaStore{db: db}
	s.forms = &SQLiteFormStore{db: db}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Users returns the UserStore.
func (s *SQLiteStore) Users() UserStore { return s.users }

// Plugins returns the PluginStore.
func (s *SQLiteStore) Plugins() PluginStore { return s.plugins }

// Documents returns the PluginDataStore.
func (s *SQLiteStore) Documents() PluginDataStore { return s.documents }

// Sites returns the SiteStore.
func (s *SQLiteStore) Sites() SiteStore { return s.sites }

// Media returns the MediaStore.
func (s *SQLiteStore) Media() MediaStore { return s.media }

// Forms returns the FormStore.
func (s *SQLiteStore) Forms() FormStore { return s.forms }

// Timestamps are stored as UTC unix microseconds.
func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nowMicros() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}
