// Package message orchestrates chat turns: it persists the user's message,
// streams the agent's completion, dispatches requested tool calls and feeds
// their results back to the model until it answers with plain text.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/darp"
	"github.com/DARPAI/portal-backend/internal/llm"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/registry"
	"github.com/DARPAI/portal-backend/internal/store"
)

// maxToolRounds bounds how many times a single turn may loop back to the
// model with tool results. A model stuck requesting tools forever would
// otherwise hold the stream open indefinitely.
const maxToolRounds = 8

// Gateway is the persistence surface the service needs. *store.Queries
// satisfies it, so a turn can run entirely inside one transaction.
type Gateway interface {
	GetChat(ctx context.Context, id uuid.UUID) (*store.Chat, error)
	GetAgentByChatID(ctx context.Context, chatID uuid.UUID) (*store.Agent, error)
	CreateMessage(ctx context.Context, arg store.CreateMessageParams) (*store.Message, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]store.Message, error)
	GetServersByAgent(ctx context.Context, agentID uuid.UUID) ([]store.DARPServer, error)
	GetServersByIDs(ctx context.Context, ids []int64) ([]store.DARPServer, error)
	UpsertServers(ctx context.Context, servers []store.DARPServer) error
}

// Streamer produces completion streams.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error]
}

// Dispatcher routes tool calls. *darp.Manager satisfies it.
type Dispatcher interface {
	Tools() []llm.Tool
	Dispatch(ctx context.Context, call llm.ToolCall) (*darp.ToolCallResult, error)
	FormatToolCall(call llm.ToolCall) (*darp.ToolCallData, error)
	RenameToolCalls(calls []darp.ToolCallData) ([]darp.ToolCallData, error)
}

// Registry finds tool servers for a query.
type Registry interface {
	Search(ctx context.Context, query string) ([]registry.Server, error)
}

// Service implements turn orchestration.
type Service struct {
	llm      Streamer
	registry Registry
	logger   log.Logger
}

// NewService creates a Service.
func NewService(streamer Streamer, reg Registry, logger log.Logger) *Service {
	return &Service{
		llm:      streamer,
		registry: reg,
		logger:   logger,
	}
}

// GetMessages returns a chat's messages, oldest first, after verifying the
// chat belongs to userID.
func (s *Service) GetMessages(ctx context.Context, q Gateway, chatID, userID uuid.UUID) ([]store.Message, error) {
	if _, err := s.ownedChat(ctx, q, chatID, userID); err != nil {
		return nil, err
	}
	return q.ListMessages(ctx, chatID)
}

// TurnAgent resolves the agent answering in a chat, verifying chat
// ownership.
func (s *Service) TurnAgent(ctx context.Context, q Gateway, chatID, userID uuid.UUID) (*store.Agent, error) {
	if _, err := s.ownedChat(ctx, q, chatID, userID); err != nil {
		return nil, err
	}
	return q.GetAgentByChatID(ctx, chatID)
}

func (s *Service) ownedChat(ctx context.Context, q Gateway, chatID, userID uuid.UUID) (*store.Chat, error) {
	chat, err := q.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	// Foreign chats look like missing ones; ownership is not revealed.
	if chat.UserID != userID {
		return nil, apperr.NotFound("Chat with this id does not exist")
	}
	return chat, nil
}

// CreateUserMessage persists the user's message opening a turn.
func (s *Service) CreateUserMessage(ctx context.Context, q Gateway, chatID uuid.UUID, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidInput("User message must contain text")
	}
	content, err := encodeUserContent(text)
	if err != nil {
		return nil, fmt.Errorf("encode user message: %w", err)
	}
	return q.CreateMessage(ctx, store.CreateMessageParams{
		ChatID:  chatID,
		Role:    store.RoleUser,
		Content: content,
	})
}

// ToolManager builds the tool dispatcher for a turn. With routing enabled
// the registry picks servers fitting the user's query and their entries are
// cached locally; otherwise the agent's configured servers are used.
func (s *Service) ToolManager(ctx context.Context, q Gateway, agent *store.Agent, query string, routing bool) (*darp.Manager, error) {
	var servers []store.DARPServer
	if routing {
		found, err := s.registry.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		entries := make([]store.DARPServer, 0, len(found))
		ids := make([]int64, 0, len(found))
		for _, srv := range found {
			entries = append(entries, registryServerToRow(srv))
			ids = append(ids, srv.ID)
		}
		if err := q.UpsertServers(ctx, entries); err != nil {
			return nil, err
		}
		servers, err = q.GetServersByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		servers, err = q.GetServersByAgent(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
	}
	return darp.NewManager(servers, s.logger)
}

func registryServerToRow(srv registry.Server) store.DARPServer {
	tools, err := json.Marshal(srv.Tools)
	if err != nil {
		tools = []byte("[]")
	}
	return store.DARPServer{
		ID:          srv.ID,
		Name:        srv.Name,
		URL:         srv.URL,
		Description: srv.Description,
		LogoURL:     srv.Logo,
		Transport:   store.TransportStreamableHTTP,
		Tools:       tools,
	}
}

// ProduceTurn runs the turn loop and yields its events. prior must be the
// chat's messages oldest first, ending with the user message that opened the
// turn.
//
// Each round streams one completion. Text deltas are forwarded as they
// arrive; when the model requests tools, the calls are dispatched in order,
// each result is persisted and surfaced, and the loop feeds the grown
// conversation back to the model. The loop ends when a round completes
// without tool calls.
//
// All persistence goes through q; the caller decides the transaction
// boundary and commits only after the stream is drained without error.
func (s *Service) ProduceTurn(
	ctx context.Context,
	q Gateway,
	agent *store.Agent,
	chatID uuid.UUID,
	prior []store.Message,
	mgr Dispatcher,
) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		conversation := slices.Clone(prior)

		if len(conversation) > 0 {
			if last := conversation[len(conversation)-1]; last.Role == store.RoleUser {
				if !yield(messageEvent(&last), nil) {
					return
				}
			}
		}

		for round := 0; ; round++ {
			if round >= maxToolRounds {
				yield(Event{}, apperr.RemoteServer("Tool call limit exceeded", nil))
				return
			}

			wire, err := FormatConversation(conversation)
			if err != nil {
				yield(Event{}, apperr.Internal("corrupt conversation history", err))
				return
			}

			req := llm.Request{
				Model:        agent.Model,
				SystemPrompt: agent.SystemPrompt,
				Conversation: wire,
				Tools:        mgr.Tools(),
			}

			var textParts []string
			var toolCalls []llm.ToolCall
			var callData []darp.ToolCallData

			for chunk, err := range s.llm.Stream(ctx, req) {
				if err != nil {
					yield(Event{}, err)
					return
				}
				if chunk.Text != "" {
					textParts = append(textParts, chunk.Text)
					if !yield(textEvent(chunk.Text), nil) {
						return
					}
				}
				for _, call := range chunk.ToolCalls {
					data, err := mgr.FormatToolCall(call)
					if errors.Is(err, darp.ErrUnknownTool) {
						// The model hallucinated a tool name. Dispatch
						// reports it back as a failed result so the next
						// round can recover; the turn goes on.
						data = &darp.ToolCallData{ToolCallID: call.ID, ToolName: call.Name}
						if json.Valid([]byte(call.Arguments)) {
							data.Arguments = json.RawMessage(call.Arguments)
						}
						err = nil
					}
					if err != nil {
						yield(Event{}, err)
						return
					}
					if !yield(toolCallEvent(data), nil) {
						return
					}
					toolCalls = append(toolCalls, call)
					callData = append(callData, *data)
				}
			}

			assistantMsg, err := s.persistAssistantMessage(ctx, q, chatID, textParts, callData, mgr)
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(messageEvent(assistantMsg), nil) {
				return
			}
			conversation = append(conversation, *assistantMsg)

			if len(toolCalls) == 0 {
				return
			}

			for _, call := range toolCalls {
				result, err := mgr.Dispatch(ctx, call)
				if err != nil {
					yield(Event{}, err)
					return
				}
				if !yield(toolResultEvent(result), nil) {
					return
				}

				toolMsg, err := s.persistToolMessage(ctx, q, chatID, call.ID, result)
				if err != nil {
					yield(Event{}, err)
					return
				}
				if !yield(messageEvent(toolMsg), nil) {
					return
				}
				conversation = append(conversation, *toolMsg)
			}
		}
	}
}

// persistAssistantMessage stores the model's message. Tool calls are
// persisted under their qualified names so the replayed conversation matches
// the catalog the model sees.
func (s *Service) persistAssistantMessage(
	ctx context.Context,
	q Gateway,
	chatID uuid.UUID,
	textParts []string,
	callData []darp.ToolCallData,
	mgr Dispatcher,
) (*store.Message, error) {
	renamed, err := mgr.RenameToolCalls(callData)
	if err != nil {
		return nil, err
	}
	wireCalls := make([]llm.WireToolCall, 0, len(renamed))
	for _, data := range renamed {
		wireCalls = append(wireCalls, llm.WireToolCall{
			ID:   data.ToolCallID,
			Type: "function",
			Function: llm.WireFunction{
				Name:      data.ToolName,
				Arguments: string(data.Arguments),
			},
		})
	}

	var text *string
	if len(textParts) > 0 {
		joined := strings.Join(textParts, "")
		text = &joined
	}

	content, err := encodeAssistantContent(text, wireCalls)
	if err != nil {
		return nil, fmt.Errorf("encode assistant message: %w", err)
	}
	return q.CreateMessage(ctx, store.CreateMessageParams{
		ChatID:  chatID,
		Role:    store.RoleAssistant,
		Content: content,
	})
}

func (s *Service) persistToolMessage(
	ctx context.Context,
	q Gateway,
	chatID uuid.UUID,
	toolCallID string,
	result *darp.ToolCallResult,
) (*store.Message, error) {
	resultJSON, err := json.Marshal(result.Result)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	content, err := encodeToolResultContent(toolCallID, string(resultJSON))
	if err != nil {
		return nil, fmt.Errorf("encode tool message: %w", err)
	}
	return q.CreateMessage(ctx, store.CreateMessageParams{
		ChatID:  chatID,
		Role:    store.RoleTool,
		Content: content,
	})
}
