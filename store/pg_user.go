package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGUserStore implements UserStore backed by PostgreSQL.
type PGUserStore struct {
	pool *pgxpool.Pool
}

const pgUserColumns = `id, email, password_hash, display_name, role, created_at, updated_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleEditor
	}
	now := nowMicros()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+pgUserColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role), now)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: user with email %s", ErrDuplicate, u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PGUserStore) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.scanOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE email = $1`, email)
}

func (s *PGUserStore) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = nowMicros()
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET email=$2, password_hash=$3, display_name=$4, role=$5, updated_at=$6
		WHERE id=$1`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role), u.UpdatedAt)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: user email %s", ErrDuplicate, u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *PGUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	if users == nil {
		users = []*User{}
	}
	for _, u := range users {
		if u.InstalledPlugins, err = s.InstalledPlugins(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// Delete removes the user; installed plugins, custom plugins and sites
// cascade.
func (s *PGUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGUserStore) InstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO installed_plugins (user_id, plugin_id) VALUES ($1, $2)`, userID, pluginID)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyInstalled, pluginID)
		}
		return fmt.Errorf("install plugin: %w", err)
	}
	return nil
}

func (s *PGUserStore) UninstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM installed_plugins WHERE user_id = $1 AND plugin_id = $2`, userID, pluginID); err != nil {
		return fmt.Errorf("uninstall plugin: %w", err)
	}
	return nil
}

func (s *PGUserStore) InstalledPlugins(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT plugin_id FROM installed_plugins WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list installed plugins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan installed plugins: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *PGUserStore) scanOne(ctx context.Context, query string, args ...any) (*User, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query user: %w", err)
		}
		return nil, ErrNotFound
	}
	u, err := scanUser(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	if u.InstalledPlugins, err = s.InstalledPlugins(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(rows pgx.CollectableRow) (*User, error) {
	var (
		u    User
		role string
	)
	err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
