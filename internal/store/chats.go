package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DARPAI/portal-backend/internal/apperr"
)

// CreateChatParams holds the fields for a new chat.
type CreateChatParams struct {
	Title   string
	UserID  uuid.UUID
	AgentID uuid.UUID
}

const createChatSQL = `
INSERT INTO chats (title, user_id, agent_id)
VALUES ($1, $2, $3)
RETURNING id, title, user_id, agent_id, created_at, updated_at`

// CreateChat inserts a new chat.
func (q *Queries) CreateChat(ctx context.Context, arg CreateChatParams) (*Chat, error) {
	var c Chat
	err := q.db.QueryRow(ctx, createChatSQL, arg.Title, arg.UserID, arg.AgentID).
		Scan(&c.ID, &c.Title, &c.UserID, &c.AgentID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

const getChatSQL = `
SELECT id, title, user_id, agent_id, created_at, updated_at
FROM chats
WHERE id = $1`

// GetChat fetches a chat by id.
func (q *Queries) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	var c Chat
	err := q.db.QueryRow(ctx, getChatSQL, id).
		Scan(&c.ID, &c.Title, &c.UserID, &c.AgentID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

const listChatsByUserSQL = `
SELECT id, title, user_id, agent_id, created_at, updated_at
FROM chats
WHERE user_id = $1
ORDER BY updated_at DESC`

// ListChatsByUser returns the user's chats, most recently active first.
func (q *Queries) ListChatsByUser(ctx context.Context, userID uuid.UUID) ([]Chat, error) {
	rows, err := q.db.Query(ctx, listChatsByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.UserID, &c.AgentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

const updateChatTitleSQL = `
UPDATE chats
SET title = $2, updated_at = now()
WHERE id = $1
RETURNING id, title, user_id, agent_id, created_at, updated_at`

// UpdateChatTitle renames a chat.
func (q *Queries) UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) (*Chat, error) {
	var c Chat
	err := q.db.QueryRow(ctx, updateChatTitleSQL, id, title).
		Scan(&c.ID, &c.Title, &c.UserID, &c.AgentID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update chat title: %w", err)
	}
	return &c, nil
}

// DeleteChat removes a chat and its messages.
func (q *Queries) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Chat not found")
	}
	return nil
}
