package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateMessageParams holds the fields for a new message. Content must be a
// JSON-encoded content block list matching Role.
type CreateMessageParams struct {
	ChatID  uuid.UUID
	Role    string
	Content json.RawMessage
}

const createMessageSQL = `
INSERT INTO messages (chat_id, role, content)
VALUES ($1, $2, $3)
RETURNING id, chat_id, role, content, created_at`

// CreateMessage inserts a message. An insert trigger bumps the parent chat's
// updated_at.
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (*Message, error) {
	var m Message
	err := q.db.QueryRow(ctx, createMessageSQL, arg.ChatID, arg.Role, arg.Content).
		Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

const listMessagesAscSQL = `
SELECT id, chat_id, role, content, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at, id`

// ListMessages returns a chat's messages oldest first.
func (q *Queries) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := q.db.Query(ctx, listMessagesAscSQL, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
