package message

import (
	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/darp"
	"github.com/DARPAI/portal-backend/internal/store"
)

// EventType discriminates the events of a turn stream.
type EventType string

// Event types emitted while producing a turn.
const (
	// EventMessageCreation reports a message persisted during the turn.
	EventMessageCreation EventType = "message_creation"
	// EventTextChunk carries one streamed text delta.
	EventTextChunk EventType = "text_chunk"
	// EventToolCall announces a tool call requested by the model.
	EventToolCall EventType = "tool_call"
	// EventToolCallResult reports the outcome of a dispatched tool call.
	EventToolCallResult EventType = "tool_call_result"
	// EventError terminates a stream that failed mid-turn.
	EventError EventType = "error"
)

// Event is one element of a turn stream. Data holds the payload matching
// Type.
type Event struct {
	Type EventType `json:"event_type"`
	Data any       `json:"data"`
}

// TextChunkData is the payload of a text_chunk event.
type TextChunkData struct {
	Content string `json:"content"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
}

func messageEvent(msg *store.Message) Event {
	return Event{Type: EventMessageCreation, Data: msg}
}

func textEvent(content string) Event {
	return Event{Type: EventTextChunk, Data: TextChunkData{Content: content}}
}

func toolCallEvent(data *darp.ToolCallData) Event {
	return Event{Type: EventToolCall, Data: data}
}

func toolResultEvent(result *darp.ToolCallResult) Event {
	return Event{Type: EventToolCallResult, Data: result}
}

// ErrorEvent converts err into the in-band error event sent to clients that
// are already consuming a stream. Internal detail stays hidden.
func ErrorEvent(err error) Event {
	return Event{
		Type: EventError,
		Data: ErrorData{
			StatusCode: apperr.KindOf(err).HTTPStatus(),
			Detail:     apperr.PublicMessage(err),
		},
	}
}
