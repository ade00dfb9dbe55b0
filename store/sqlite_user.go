package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteUserStore implements UserStore backed by SQLite.
type SQLiteUserStore struct {
	db *sql.DB
}

const sqliteUserColumns = `id, email, password_hash, display_name, role, created_at, updated_at`

func (s *SQLiteUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleEditor
	}
	now := nowMicros()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+sqliteUserColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.PasswordHash, u.DisplayName, string(u.Role),
		toMicros(now), toMicros(now))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: user with email %s", ErrDuplicate, u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.getOne(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id.String())
}

func (s *SQLiteUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE email = ?`, email)
}

func (s *SQLiteUserStore) getOne(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFoundOr(err, "query user")
	}
	if u.InstalledPlugins, err = s.InstalledPlugins(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteUserStore) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = nowMicros()
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, display_name = ?, role = ?, updated_at = ? WHERE id = ?`,
		u.Email, u.PasswordHash, u.DisplayName, string(u.Role), toMicros(u.UpdatedAt), u.ID.String())
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: user email %s", ErrDuplicate, u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := []*User{}
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.InstalledPlugins, err = s.InstalledPlugins(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// Delete removes the user and, since SQLite has no foreign keys here, the
// rows PostgreSQL would cascade.
func (s *SQLiteUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, stmt := range []string{
		`DELETE FROM installed_plugins WHERE user_id = ?`,
		`DELETE FROM plugins WHERE created_by = ?`,
		`DELETE FROM form_responses WHERE site_id IN (SELECT id FROM sites WHERE owner_id = ?)`,
		`DELETE FROM sites WHERE owner_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id.String()); err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteUserStore) InstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installed_plugins (user_id, plugin_id) VALUES (?, ?)`, userID.String(), pluginID)
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyInstalled, pluginID)
		}
		return fmt.Errorf("install plugin: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) UninstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM installed_plugins WHERE user_id = ? AND plugin_id = ?`, userID.String(), pluginID); err != nil {
		return fmt.Errorf("uninstall plugin: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) InstalledPlugins(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin_id FROM installed_plugins WHERE user_id = ? ORDER BY seq`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list installed plugins: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan installed plugin: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSQLiteUser(row rowScanner) (*User, error) {
	var (
		u                User
		id, role         string
		created, updated int64
	)
	if err := row.Scan(&id, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.ID = parsed
	u.Role = Role(role)
	u.CreatedAt = fromMicros(created)
	u.UpdatedAt = fromMicros(updated)
	return &u, nil
}
