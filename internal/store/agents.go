package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DARPAI/portal-backend/internal/apperr"
)

// CreateAgentParams holds the fields for a new agent.
type CreateAgentParams struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	AvatarURL    string
	CreatorID    uuid.UUID
}

const createAgentSQL = `
INSERT INTO agents (name, description, system_prompt, model, avatar_url, creator_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, name, description, system_prompt, model, avatar_url, creator_id, created_at, updated_at`

// CreateAgent inserts a new agent.
func (q *Queries) CreateAgent(ctx context.Context, arg CreateAgentParams) (*Agent, error) {
	var a Agent
	err := q.db.QueryRow(ctx, createAgentSQL,
		arg.Name, arg.Description, arg.SystemPrompt, arg.Model, arg.AvatarURL, arg.CreatorID).
		Scan(&a.ID, &a.Name, &a.Description, &a.SystemPrompt, &a.Model, &a.AvatarURL,
			&a.CreatorID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &a, nil
}

const getAgentSQL = `
SELECT id, name, description, system_prompt, model, avatar_url, creator_id, created_at, updated_at
FROM agents
WHERE id = $1`

// GetAgent fetches an agent by id.
func (q *Queries) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	return q.scanAgentRow(q.db.QueryRow(ctx, getAgentSQL, id))
}

const getAgentByChatSQL = `
SELECT a.id, a.name, a.description, a.system_prompt, a.model, a.avatar_url, a.creator_id, a.created_at, a.updated_at
FROM agents a
JOIN chats c ON c.agent_id = a.id
WHERE c.id = $1`

// GetAgentByChatID fetches the agent bound to a chat.
func (q *Queries) GetAgentByChatID(ctx context.Context, chatID uuid.UUID) (*Agent, error) {
	return q.scanAgentRow(q.db.QueryRow(ctx, getAgentByChatSQL, chatID))
}

func (q *Queries) scanAgentRow(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.SystemPrompt, &a.Model,
		&a.AvatarURL, &a.CreatorID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

const listAgentsByCreatorSQL = `
SELECT id, name, description, system_prompt, model, avatar_url, creator_id, created_at, updated_at
FROM agents
WHERE creator_id = $1
ORDER BY created_at`

// ListAgentsByCreator returns all agents created by a user, oldest first.
func (q *Queries) ListAgentsByCreator(ctx context.Context, creatorID uuid.UUID) ([]Agent, error) {
	rows, err := q.db.Query(ctx, listAgentsByCreatorSQL, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.SystemPrompt, &a.Model,
			&a.AvatarURL, &a.CreatorID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentParams holds optional field updates; nil fields are left
// unchanged.
type UpdateAgentParams struct {
	Name         *string
	Description  *string
	SystemPrompt *string
	Model        *string
	AvatarURL    *string
}

const updateAgentSQL = `
UPDATE agents
SET name          = COALESCE($2, name),
    description   = COALESCE($3, description),
    system_prompt = COALESCE($4, system_prompt),
    model         = COALESCE($5, model),
    avatar_url    = COALESCE($6, avatar_url),
    updated_at    = now()
WHERE id = $1
RETURNING id, name, description, system_prompt, model, avatar_url, creator_id, created_at, updated_at`

// UpdateAgent applies the non-nil fields of arg to an agent.
func (q *Queries) UpdateAgent(ctx context.Context, id uuid.UUID, arg UpdateAgentParams) (*Agent, error) {
	return q.scanAgentRow(q.db.QueryRow(ctx, updateAgentSQL, id,
		arg.Name, arg.Description, arg.SystemPrompt, arg.Model, arg.AvatarURL))
}

// DeleteAgent removes an agent. Chats referencing it cascade.
func (q *Queries) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Agent not found")
	}
	return nil
}

// SetAgentServers replaces the agent's DARP server set.
func (q *Queries) SetAgentServers(ctx context.Context, agentID uuid.UUID, serverIDs []int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM agents_darp_servers WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("clear agent servers: %w", err)
	}
	for _, sid := range serverIDs {
		_, err := q.db.Exec(ctx,
			`INSERT INTO agents_darp_servers (agent_id, server_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			agentID, sid)
		if err != nil {
			return fmt.Errorf("link agent server: %w", err)
		}
	}
	return nil
}

const serverIDsByAgentSQL = `
SELECT server_id
FROM agents_darp_servers
WHERE agent_id = $1
ORDER BY server_id`

// GetServerIDsByAgent returns the ids of the DARP servers linked to an agent.
func (q *Queries) GetServerIDsByAgent(ctx context.Context, agentID uuid.UUID) ([]int64, error) {
	rows, err := q.db.Query(ctx, serverIDsByAgentSQL, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent server ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan server id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
