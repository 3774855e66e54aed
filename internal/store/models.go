package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transport protocols a DARP server may speak.
const (
	TransportStreamableHTTP = "streamable_http"
	TransportSSE            = "sse"
)

// Message roles as stored in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// User is a registered portal user.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is an LLM persona owned by a user. Its DARP servers live in the
// agents_darp_servers association table.
type Agent struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Model        string    `json:"model"`
	AvatarURL    string    `json:"avatar_url"`
	CreatorID    uuid.UUID `json:"creator_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Chat is a conversation between a user and an agent.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	UserID    uuid.UUID `json:"user_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn entry. Content is the JSON-encoded content block
// list; its shape depends on Role (see internal/message).
type Message struct {
	ID        uuid.UUID       `json:"id"`
	ChatID    uuid.UUID       `json:"chat_id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// DARPServer mirrors a registry entry. The id is assigned by the registry,
// not by us. Tools holds the JSON-encoded tool descriptors advertised by the
// server.
type DARPServer struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	Description string          `json:"description"`
	LogoURL     string          `json:"logo_url"`
	Transport   string          `json:"transport"`
	Tools       json.RawMessage `json:"tools"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
