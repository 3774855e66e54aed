package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DARPAI/portal-backend/internal/apperr"
)

const createUserSQL = `
INSERT INTO users (name)
VALUES ($1)
RETURNING id, name, created_at, updated_at`

// CreateUser inserts a new user.
func (q *Queries) CreateUser(ctx context.Context, name string) (*User, error) {
	var u User
	err := q.db.QueryRow(ctx, createUserSQL, name).
		Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

const getUserSQL = `
SELECT id, name, created_at, updated_at
FROM users
WHERE id = $1`

// GetUser fetches a user by id.
func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserSQL, id).
		Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

const updateUserSQL = `
UPDATE users
SET name = $2, updated_at = now()
WHERE id = $1
RETURNING id, name, created_at, updated_at`

// UpdateUser renames a user.
func (q *Queries) UpdateUser(ctx context.Context, id uuid.UUID, name string) (*User, error) {
	var u User
	err := q.db.QueryRow(ctx, updateUserSQL, id, name).
		Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &u, nil
}

const deleteUserSQL = `DELETE FROM users WHERE id = $1`

// DeleteUser removes a user. Owned agents and chats cascade.
func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, deleteUserSQL, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
