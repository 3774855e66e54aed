package darp

import (
	"encoding/json"

	"github.com/DARPAI/portal-backend/internal/store"
)

// serverTool is one tool descriptor as advertised in a server's catalog.
// Alias, when present, overrides the qualified name the model sees.
type serverTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Alias       string          `json:"alias,omitempty"`
}

// toolInfo binds a tool's original name to the server hosting it.
type toolInfo struct {
	name   string
	server store.DARPServer
}

// ToolCallData is the client-facing description of a requested tool call.
// ToolName carries the tool's original name; ServerLogo lets clients render
// the owning server.
type ToolCallData struct {
	ToolCallID string          `json:"tool_call_id"`
	ServerID   *int64          `json:"server_id"`
	ServerLogo string          `json:"server_logo,omitempty"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the outcome of a dispatched tool call. Result holds the
// decoded JSON value when the server returned JSON, the raw text otherwise.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	ServerID   *int64 `json:"server_id"`
	ToolName   string `json:"tool_name"`
	Result     any    `json:"result"`
	Success    bool   `json:"success"`
}
