package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// --- UserStore --------------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email
		FROM users
		WHERE id = $1
	`, id)

	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
		}
		return user.User{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM user_groups WHERE user_id = $1 ORDER BY group_id
	`, id)
	if err != nil {
		return user.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return user.User{}, err
		}
		u.GroupIDs = append(u.GroupIDs, groupID)
	}
	return u, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, u user.User) (user.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return user.User{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, u.ID, u.Name, u.Email)
	if err != nil {
		return user.User{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1`, u.ID); err != nil {
		return user.User{}, err
	}
	for _, groupID := range u.GroupIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_groups (user_id, group_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, u.ID, groupID)
		if err != nil {
			return user.User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (user.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type FROM groups WHERE id = $1
	`, id)

	var g user.Group
	if err := row.Scan(&g.ID, &g.Name, &g.Type); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.Group{}, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
		}
		return user.Group{}, err
	}
	return g, nil
}

func (s *Store) UpsertGroup(ctx context.Context, g user.Group) (user.Group, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type
	`, g.ID, g.Name, g.Type)
	if err != nil {
		return user.Group{}, err
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]user.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type FROM groups ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []user.Group
	for rows.Next() {
		var g user.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Type); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
