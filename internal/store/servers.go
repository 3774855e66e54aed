package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DARPAI/portal-backend/internal/apperr"
)

// The conflict update leaves transport alone: the registry does not report
// it, so a refresh must not clobber a row that was stored with sse.
const upsertServerSQL = `
INSERT INTO darp_servers (id, name, url, description, logo_url, transport, tools)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET name        = EXCLUDED.name,
    url         = EXCLUDED.url,
    description = EXCLUDED.description,
    logo_url    = EXCLUDED.logo_url,
    tools       = EXCLUDED.tools,
    updated_at  = now()`

// UpsertServers writes registry entries, replacing stale rows in place.
func (q *Queries) UpsertServers(ctx context.Context, servers []DARPServer) error {
	for _, s := range servers {
		tools := s.Tools
		if len(tools) == 0 {
			tools = []byte("[]")
		}
		transport := s.Transport
		if transport == "" {
			transport = TransportStreamableHTTP
		}
		_, err := q.db.Exec(ctx, upsertServerSQL,
			s.ID, s.Name, s.URL, s.Description, s.LogoURL, transport, tools)
		if err != nil {
			return fmt.Errorf("upsert server %d: %w", s.ID, err)
		}
	}
	return nil
}

const serverColumns = `id, name, url, description, logo_url, transport, tools, created_at, updated_at`

// GetServersByIDs fetches the given servers; missing ids are simply absent
// from the result.
func (q *Queries) GetServersByIDs(ctx context.Context, ids []int64) ([]DARPServer, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+serverColumns+` FROM darp_servers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get servers by ids: %w", err)
	}
	defer rows.Close()
	return scanServers(rows)
}

// GetServer fetches one server by its registry id.
func (q *Queries) GetServer(ctx context.Context, id int64) (*DARPServer, error) {
	var s DARPServer
	err := q.db.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM darp_servers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.URL, &s.Description, &s.LogoURL,
			&s.Transport, &s.Tools, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Server not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return &s, nil
}

// GetServersByAgent returns the DARP servers linked to an agent.
func (q *Queries) GetServersByAgent(ctx context.Context, agentID uuid.UUID) ([]DARPServer, error) {
	rows, err := q.db.Query(ctx, `
SELECT s.id, s.name, s.url, s.description, s.logo_url, s.transport, s.tools, s.created_at, s.updated_at
FROM darp_servers s
JOIN agents_darp_servers ads ON ads.server_id = s.id
WHERE ads.agent_id = $1
ORDER BY s.id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("get servers by agent: %w", err)
	}
	defer rows.Close()
	return scanServers(rows)
}

// ListServers returns all known servers.
func (q *Queries) ListServers(ctx context.Context) ([]DARPServer, error) {
	rows, err := q.db.Query(ctx, `SELECT `+serverColumns+` FROM darp_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()
	return scanServers(rows)
}

func scanServers(rows pgx.Rows) ([]DARPServer, error) {
	var servers []DARPServer
	for rows.Next() {
		var s DARPServer
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.Description, &s.LogoURL,
			&s.Transport, &s.Tools, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}
