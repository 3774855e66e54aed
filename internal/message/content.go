package message

import (
	"encoding/json"
	"fmt"

	"github.com/DARPAI/portal-backend/internal/llm"
	"github.com/DARPAI/portal-backend/internal/store"
)

// Message content is stored as a JSON array of wire-format blocks. Each role
// has its own block shape, mirroring what the completion API expects, so a
// stored conversation replays without transformation beyond validation.

// UserContent is a stored user message block.
type UserContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AssistantContent is a stored assistant message block. Content is nil for
// pure tool-call turns; ToolCalls carries qualified tool names.
type AssistantContent struct {
	Role      string             `json:"role"`
	Content   *string            `json:"content"`
	ToolCalls []llm.WireToolCall `json:"tool_calls,omitempty"`
}

// ToolResultContent is a stored tool result block. Content is the
// JSON-encoded tool result.
type ToolResultContent struct {
	Role       string `json:"role"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

func encodeUserContent(text string) (json.RawMessage, error) {
	return json.Marshal([]UserContent{{Role: store.RoleUser, Content: text}})
}

func encodeAssistantContent(text *string, toolCalls []llm.WireToolCall) (json.RawMessage, error) {
	return json.Marshal([]AssistantContent{{
		Role:      store.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
	}})
}

func encodeToolResultContent(toolCallID, result string) (json.RawMessage, error) {
	return json.Marshal([]ToolResultContent{{
		Role:       store.RoleTool,
		ToolCallID: toolCallID,
		Content:    result,
	}})
}

// FormatMessageForLLM converts a stored message into completion wire
// messages.
func FormatMessageForLLM(msg store.Message) ([]llm.Message, error) {
	switch msg.Role {
	case store.RoleUser:
		var blocks []UserContent
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			return nil, fmt.Errorf("decode user message %s: %w", msg.ID, err)
		}
		out := make([]llm.Message, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, llm.Message{Role: b.Role, Content: b.Content})
		}
		return out, nil

	case store.RoleAssistant:
		var blocks []AssistantContent
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			return nil, fmt.Errorf("decode assistant message %s: %w", msg.ID, err)
		}
		out := make([]llm.Message, 0, len(blocks))
		for _, b := range blocks {
			m := llm.Message{Role: b.Role, ToolCalls: b.ToolCalls}
			if b.Content != nil {
				m.Content = *b.Content
			}
			out = append(out, m)
		}
		return out, nil

	case store.RoleTool:
		var blocks []ToolResultContent
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			return nil, fmt.Errorf("decode tool message %s: %w", msg.ID, err)
		}
		out := make([]llm.Message, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, llm.Message{Role: b.Role, ToolCallID: b.ToolCallID, Content: b.Content})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("message %s has unknown role %q", msg.ID, msg.Role)
	}
}

// FormatConversation flattens stored messages into the completion wire
// conversation, oldest first.
func FormatConversation(messages []store.Message) ([]llm.Message, error) {
	var out []llm.Message
	for _, msg := range messages {
		wire, err := FormatMessageForLLM(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, wire...)
	}
	return out, nil
}
