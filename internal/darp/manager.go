// Package darp aggregates the tools of a set of DARP servers into a single
// catalog the LLM can call, and dispatches tool calls back to the owning
// server over MCP.
//
// Tool names are qualified before they reach the model: each tool is exposed
// under its alias when the catalog defines one, or as "<tool>__<server>"
// otherwise. Dispatch resolves the qualified name back to the original tool
// on its server.
package darp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/llm"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/store"
)

// ErrUnknownTool marks a tool call naming a tool absent from the catalog.
// Callers check it with errors.Is to degrade the call into a failed result
// instead of aborting the turn.
var ErrUnknownTool = errors.New("unknown tool name")

// clientImpl identifies this client to DARP servers during the MCP
// handshake.
var clientImpl = &mcp.Implementation{Name: "portal-backend", Version: "1.0.0"}

// Manager routes tool calls for one agent's server set. Its catalog is built
// once at construction and never mutated afterwards, so a Manager is safe
// for concurrent use.
type Manager struct {
	byQualified         map[string]toolInfo
	qualifiedByOriginal map[string]string
	tools               []llm.Tool
	logger              log.Logger
}

// NewManager builds the qualified tool catalog for servers. When two tools
// resolve to the same qualified name, the later server wins and the earlier
// tool becomes unreachable; a warning is logged for each collision.
func NewManager(servers []store.DARPServer, logger log.Logger) (*Manager, error) {
	m := &Manager{
		byQualified:         make(map[string]toolInfo),
		qualifiedByOriginal: make(map[string]string),
		logger:              logger,
	}

	toolIndex := make(map[string]int)
	for _, server := range servers {
		var catalog []serverTool
		if len(server.Tools) > 0 {
			if err := json.Unmarshal(server.Tools, &catalog); err != nil {
				return nil, fmt.Errorf("decode tool catalog of server %d: %w", server.ID, err)
			}
		}
		for _, tool := range catalog {
			qualified := tool.Alias
			if qualified == "" {
				qualified = fmt.Sprintf("%s__%s", tool.Name, server.Name)
			}
			if prev, exists := m.byQualified[qualified]; exists {
				logger.Warn("tool name collision, earlier tool is shadowed",
					"qualified_name", qualified,
					"shadowed_server_id", prev.server.ID,
					"winning_server_id", server.ID)
			}
			m.byQualified[qualified] = toolInfo{name: tool.Name, server: server}
			m.qualifiedByOriginal[tool.Name] = qualified

			entry := llm.Tool{
				Name:        qualified,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			}
			if idx, exists := toolIndex[qualified]; exists {
				m.tools[idx] = entry
			} else {
				toolIndex[qualified] = len(m.tools)
				m.tools = append(m.tools, entry)
			}
		}
	}
	return m, nil
}

// Tools returns the qualified tool catalog in provider format.
func (m *Manager) Tools() []llm.Tool {
	tools := make([]llm.Tool, len(m.tools))
	copy(tools, m.tools)
	return tools
}

// HasTools reports whether any server contributed tools.
func (m *Manager) HasTools() bool {
	return len(m.tools) > 0
}

// Dispatch executes a tool call against the owning server and returns the
// outcome. A qualified name not present in the catalog is NOT an error: the
// model sometimes hallucinates tool names, and the failure is reported back
// to it as an unsuccessful result instead of aborting the turn.
func (m *Manager) Dispatch(ctx context.Context, call llm.ToolCall) (*ToolCallResult, error) {
	info, ok := m.byQualified[call.Name]
	if !ok {
		m.logger.Warn("model requested unknown tool", "tool_name", call.Name)
		return &ToolCallResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     "Error: Incorrect tool name",
			Success:    false,
		}, nil
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return nil, apperr.RemoteServer("Incorrect tool call from LLM", err)
	}

	transport, err := transportBuilder(info.server.URL, info.server.Transport)
	if err != nil {
		return nil, apperr.RemoteServer("Error calling DARP server", err)
	}

	client := mcp.NewClient(clientImpl, m.clientOptions(info.server))
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, apperr.RemoteServer("Error calling DARP server", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      info.name,
		Arguments: args,
	})
	if err != nil {
		return nil, apperr.RemoteServer("Error calling DARP server", err)
	}

	serverID := info.server.ID
	return &ToolCallResult{
		ToolCallID: call.ID,
		ServerID:   &serverID,
		ToolName:   info.name,
		Result:     decodeResult(result),
		Success:    !result.IsError,
	}, nil
}

// FormatToolCall resolves a model tool call into its client-facing
// description. Unlike Dispatch, an unknown qualified name here is an error
// wrapping ErrUnknownTool; the caller decides whether to degrade or abort.
func (m *Manager) FormatToolCall(call llm.ToolCall) (*ToolCallData, error) {
	info, ok := m.byQualified[call.Name]
	if !ok {
		return nil, apperr.RemoteServer("Incorrect tool call from LLM", ErrUnknownTool)
	}

	var args json.RawMessage
	if call.Arguments != "" {
		if !json.Valid([]byte(call.Arguments)) {
			return nil, apperr.RemoteServer("Incorrect tool call from LLM", nil)
		}
		args = json.RawMessage(call.Arguments)
	}

	serverID := info.server.ID
	return &ToolCallData{
		ToolCallID: call.ID,
		ServerID:   &serverID,
		ServerLogo: info.server.LogoURL,
		ToolName:   info.name,
		Arguments:  args,
	}, nil
}

// RenameToolCalls maps tool call names from original back to qualified form
// for persistence, so replayed conversations present the names the model
// actually knows. A name with no mapping passes through verbatim: it was
// hallucinated by the model and is already the only name there is.
func (m *Manager) RenameToolCalls(calls []ToolCallData) ([]ToolCallData, error) {
	renamed := make([]ToolCallData, len(calls))
	for i, call := range calls {
		if qualified, ok := m.qualifiedByOriginal[call.ToolName]; ok {
			call.ToolName = qualified
		}
		renamed[i] = call
	}
	return renamed, nil
}

// clientOptions forwards server-side MCP log notifications to our logger.
func (m *Manager) clientOptions(server store.DARPServer) *mcp.ClientOptions {
	return &mcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *mcp.LoggingMessageRequest) {
			if req == nil || req.Params == nil {
				return
			}
			m.logger.Debug("darp server log",
				"server_id", server.ID,
				"level", req.Params.Level,
				"data", req.Params.Data)
		},
	}
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// decodeResult extracts the first text content block. JSON payloads are
// decoded so clients receive structured results; anything else passes
// through as text. A payload carrying no information (empty text, JSON
// null, "", 0, false, [] or {}) becomes "Error" so the model sees that
// something went wrong rather than silence.
func decodeResult(result *mcp.CallToolResult) any {
	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if text == "" {
		return "Error"
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return text
	}
	if emptyResult(decoded) {
		return "Error"
	}
	return decoded
}

func emptyResult(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
