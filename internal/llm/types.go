package llm

import (
	"encoding/json"
	"fmt"
)

// Tool describes a function the model may call. Parameters holds the JSON
// schema for the arguments object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a complete tool invocation requested by the model. Arguments
// is the raw JSON string as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Chunk is one unit of streamed output. Exactly one of Text or ToolCalls is
// set: text deltas stream as they arrive, tool calls only as a complete
// batch once the model finishes the turn with them.
type Chunk struct {
	Text      string
	ToolCalls []ToolCall
}

// Message is a chat-completions wire message. Content is either a plain
// string or provider-specific structured content.
type Message struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// WireToolCall is a tool call in the provider wire format.
type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

// WireFunction carries tool call name and raw JSON arguments.
type WireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is a streaming completion request.
type Request struct {
	Model        string
	SystemPrompt string
	Conversation []Message
	MaxTokens    int
	Tools        []Tool
	// ToolChoice defaults to "auto" when tools are present.
	ToolChoice string
}

// marshalWire builds the provider request body. The system prompt, when set,
// is prepended as a system message with an ephemeral cache_control hint so
// Anthropic models cache it across turns.
func (r Request) marshalWire() ([]byte, error) {
	messages := make([]json.RawMessage, 0, len(r.Conversation)+1)

	if r.SystemPrompt != "" {
		system, err := json.Marshal(map[string]any{
			"role":          "system",
			"content":       r.SystemPrompt,
			"cache_control": map[string]string{"type": "ephemeral"},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal system message: %w", err)
		}
		messages = append(messages, system)
	}
	for i, m := range r.Conversation {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal message %d: %w", i, err)
		}
		messages = append(messages, raw)
	}

	payload := map[string]any{
		"model":    r.Model,
		"messages": messages,
		"stream":   true,
	}
	if r.MaxTokens > 0 {
		payload["max_tokens"] = r.MaxTokens
	}
	if len(r.Tools) > 0 {
		tools := make([]map[string]any, 0, len(r.Tools))
		for _, t := range r.Tools {
			params := t.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		payload["tools"] = tools
		choice := r.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		payload["tool_choice"] = choice
	}

	return json.Marshal(payload)
}

// streamChunk is one provider SSE data frame.
type streamChunk struct {
	Choices []struct {
		Delta        delta  `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type delta struct {
	Content   string          `json:"content"`
	ToolCalls []deltaToolCall `json:"tool_calls"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}
