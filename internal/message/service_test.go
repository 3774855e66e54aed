package message

import (
	"context"
	"encoding/json"
	"iter"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/darp"
	"github.com/DARPAI/portal-backend/internal/llm"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/registry"
	"github.com/DARPAI/portal-backend/internal/store"
)

// fakeGateway is an in-memory Gateway.
type fakeGateway struct {
	chats    map[uuid.UUID]*store.Chat
	agent    *store.Agent
	messages []store.Message
	servers  []store.DARPServer
	upserted []store.DARPServer
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{chats: make(map[uuid.UUID]*store.Chat)}
}

func (g *fakeGateway) GetChat(_ context.Context, id uuid.UUID) (*store.Chat, error) {
	chat, ok := g.chats[id]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	return chat, nil
}

func (g *fakeGateway) GetAgentByChatID(_ context.Context, _ uuid.UUID) (*store.Agent, error) {
	if g.agent == nil {
		return nil, apperr.NotFound("Agent not found")
	}
	return g.agent, nil
}

func (g *fakeGateway) CreateMessage(_ context.Context, arg store.CreateMessageParams) (*store.Message, error) {
	msg := store.Message{
		ID:        uuid.New(),
		ChatID:    arg.ChatID,
		Role:      arg.Role,
		Content:   arg.Content,
		CreatedAt: time.Now(),
	}
	g.messages = append(g.messages, msg)
	return &msg, nil
}

func (g *fakeGateway) ListMessages(_ context.Context, chatID uuid.UUID) ([]store.Message, error) {
	var out []store.Message
	for _, m := range g.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGateway) GetServersByAgent(_ context.Context, _ uuid.UUID) ([]store.DARPServer, error) {
	return g.servers, nil
}

func (g *fakeGateway) GetServersByIDs(_ context.Context, ids []int64) ([]store.DARPServer, error) {
	var out []store.DARPServer
	for _, s := range g.upserted {
		for _, id := range ids {
			if s.ID == id {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (g *fakeGateway) UpsertServers(_ context.Context, servers []store.DARPServer) error {
	g.upserted = append(g.upserted, servers...)
	return nil
}

// fakeStreamer replays one scripted chunk sequence per Stream call and
// records the requests it received.
type fakeStreamer struct {
	rounds   [][]llm.Chunk
	err      error
	errRound int
	requests []llm.Request
}

func (f *fakeStreamer) Stream(_ context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	round := len(f.requests)
	f.requests = append(f.requests, req)
	return func(yield func(llm.Chunk, error) bool) {
		if f.err != nil && round == f.errRound {
			yield(llm.Chunk{}, f.err)
			return
		}
		if round >= len(f.rounds) {
			return
		}
		for _, chunk := range f.rounds[round] {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// fakeDispatcher resolves qualified names through a static table.
type fakeDispatcher struct {
	tools       map[string]string // qualified -> original
	results     map[string]*darp.ToolCallResult
	dispatchErr error
	dispatched  []llm.ToolCall
}

func (d *fakeDispatcher) Tools() []llm.Tool {
	var out []llm.Tool
	for qualified := range d.tools {
		out = append(out, llm.Tool{Name: qualified})
	}
	return out
}

func (d *fakeDispatcher) Dispatch(_ context.Context, call llm.ToolCall) (*darp.ToolCallResult, error) {
	if d.dispatchErr != nil {
		return nil, d.dispatchErr
	}
	d.dispatched = append(d.dispatched, call)
	if _, ok := d.tools[call.Name]; !ok {
		return &darp.ToolCallResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     "Error: Incorrect tool name",
			Success:    false,
		}, nil
	}
	if result, ok := d.results[call.ID]; ok {
		return result, nil
	}
	return &darp.ToolCallResult{ToolCallID: call.ID, ToolName: call.Name, Result: "ok", Success: true}, nil
}

func (d *fakeDispatcher) FormatToolCall(call llm.ToolCall) (*darp.ToolCallData, error) {
	original, ok := d.tools[call.Name]
	if !ok {
		return nil, apperr.RemoteServer("Incorrect tool call from LLM", darp.ErrUnknownTool)
	}
	var args json.RawMessage
	if call.Arguments != "" {
		args = json.RawMessage(call.Arguments)
	}
	return &darp.ToolCallData{ToolCallID: call.ID, ToolName: original, Arguments: args}, nil
}

func (d *fakeDispatcher) RenameToolCalls(calls []darp.ToolCallData) ([]darp.ToolCallData, error) {
	renamed := make([]darp.ToolCallData, len(calls))
	for i, call := range calls {
		for qualified, original := range d.tools {
			if original == call.ToolName {
				call.ToolName = qualified
			}
		}
		renamed[i] = call
	}
	return renamed, nil
}

func testAgent() *store.Agent {
	return &store.Agent{
		ID:           uuid.New(),
		Name:         "Helper",
		Model:        "anthropic/claude-3.7-sonnet",
		SystemPrompt: "You are helpful.",
	}
}

func userMessage(t *testing.T, chatID uuid.UUID, text string) store.Message {
	t.Helper()
	content, err := encodeUserContent(text)
	require.NoError(t, err)
	return store.Message{ID: uuid.New(), ChatID: chatID, Role: store.RoleUser, Content: content, CreatedAt: time.Now()}
}

func drainTurn(t *testing.T, events iter.Seq2[Event, error]) ([]Event, error) {
	t.Helper()
	var out []Event
	for event, err := range events {
		if err != nil {
			return out, err
		}
		out = append(out, event)
	}
	return out, nil
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestProduceTurnTextOnly(t *testing.T) {
	gw := newFakeGateway()
	streamer := &fakeStreamer{rounds: [][]llm.Chunk{
		{{Text: "Hello"}, {Text: " world"}},
	}}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "hi")}

	events, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, &fakeDispatcher{}))
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventMessageCreation, // the user message opening the turn
		EventTextChunk,
		EventTextChunk,
		EventMessageCreation, // the persisted assistant message
	}, eventTypes(events))

	require.Len(t, gw.messages, 1)
	assert.Equal(t, store.RoleAssistant, gw.messages[0].Role)

	var blocks []AssistantContent
	require.NoError(t, json.Unmarshal(gw.messages[0].Content, &blocks))
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].Content)
	assert.Equal(t, "Hello world", *blocks[0].Content)
	assert.Empty(t, blocks[0].ToolCalls)

	// One completion round, carrying the agent's configuration.
	require.Len(t, streamer.requests, 1)
	assert.Equal(t, "anthropic/claude-3.7-sonnet", streamer.requests[0].Model)
	assert.Equal(t, "You are helpful.", streamer.requests[0].SystemPrompt)
}

func TestProduceTurnWithToolRound(t *testing.T) {
	gw := newFakeGateway()
	streamer := &fakeStreamer{rounds: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "forecast__weather", Arguments: `{"city":"Paris"}`}}}},
		{{Text: "It is sunny."}},
	}}
	dispatcher := &fakeDispatcher{
		tools: map[string]string{"forecast__weather": "forecast"},
		results: map[string]*darp.ToolCallResult{
			"call_1": {ToolCallID: "call_1", ToolName: "forecast", Result: map[string]any{"temp": 21.0}, Success: true},
		},
	}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "weather in paris?")}

	events, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, dispatcher))
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventMessageCreation, // user message
		EventToolCall,
		EventMessageCreation, // assistant message with the tool call
		EventToolCallResult,
		EventMessageCreation, // tool result message
		EventTextChunk,
		EventMessageCreation, // final assistant message
	}, eventTypes(events))

	// The tool_call event exposes the original tool name.
	callData := events[1].Data.(*darp.ToolCallData)
	assert.Equal(t, "forecast", callData.ToolName)

	// Three messages persisted: assistant, tool, assistant.
	require.Len(t, gw.messages, 3)
	assert.Equal(t, store.RoleAssistant, gw.messages[0].Role)
	assert.Equal(t, store.RoleTool, gw.messages[1].Role)
	assert.Equal(t, store.RoleAssistant, gw.messages[2].Role)

	// The stored assistant message carries the qualified name.
	var blocks []AssistantContent
	require.NoError(t, json.Unmarshal(gw.messages[0].Content, &blocks))
	require.Len(t, blocks[0].ToolCalls, 1)
	assert.Equal(t, "forecast__weather", blocks[0].ToolCalls[0].Function.Name)

	// The tool result message holds the JSON-encoded result.
	var toolBlocks []ToolResultContent
	require.NoError(t, json.Unmarshal(gw.messages[1].Content, &toolBlocks))
	assert.Equal(t, "call_1", toolBlocks[0].ToolCallID)
	assert.JSONEq(t, `{"temp":21}`, toolBlocks[0].Content)

	// The second round saw the assistant and tool messages.
	require.Len(t, streamer.requests, 2)
	second := streamer.requests[1].Conversation
	require.Len(t, second, 3)
	assert.Equal(t, "user", second[0].Role)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Equal(t, "tool", second[2].Role)
}

// A tool call naming a tool outside the catalog must not kill the turn: the
// model gets a failed result back and answers in the next round.
func TestProduceTurnUnknownToolDegrades(t *testing.T) {
	gw := newFakeGateway()
	streamer := &fakeStreamer{rounds: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "not_in_catalog", Arguments: "{}"}}}},
		{{Text: "Let me answer directly."}},
	}}
	dispatcher := &fakeDispatcher{tools: map[string]string{"forecast__weather": "forecast"}}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "weather?")}

	events, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, dispatcher))
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventMessageCreation, // user message
		EventToolCall,
		EventMessageCreation, // assistant message with the hallucinated call
		EventToolCallResult,
		EventMessageCreation, // failed tool result message
		EventTextChunk,
		EventMessageCreation, // final assistant message
	}, eventTypes(events))

	// The result reports the failure instead of raising it.
	result := events[3].Data.(*darp.ToolCallResult)
	assert.False(t, result.Success)
	assert.Equal(t, "Error: Incorrect tool name", result.Result)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Nil(t, result.ServerID)

	// The failure is persisted like any other tool result.
	require.Len(t, gw.messages, 3)
	var toolBlocks []ToolResultContent
	require.NoError(t, json.Unmarshal(gw.messages[1].Content, &toolBlocks))
	assert.Contains(t, toolBlocks[0].Content, "Incorrect tool name")

	// The model saw the failure and got a follow-up round.
	require.Len(t, streamer.requests, 2)
	second := streamer.requests[1].Conversation
	require.Len(t, second, 3)
	assert.Equal(t, "tool", second[2].Role)
}

func TestProduceTurnDispatchError(t *testing.T) {
	gw := newFakeGateway()
	streamer := &fakeStreamer{rounds: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "forecast__weather", Arguments: "{}"}}}},
	}}
	dispatcher := &fakeDispatcher{
		tools:       map[string]string{"forecast__weather": "forecast"},
		dispatchErr: apperr.RemoteServer("Error calling DARP server", nil),
	}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "weather?")}

	_, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, dispatcher))
	assert.True(t, apperr.IsKind(err, apperr.KindRemoteServer))
}

func TestProduceTurnStreamError(t *testing.T) {
	gw := newFakeGateway()
	streamer := &fakeStreamer{err: apperr.RemoteServer("LLM request failed", nil)}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "hi")}

	events, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, &fakeDispatcher{}))
	assert.True(t, apperr.IsKind(err, apperr.KindRemoteServer))
	// Only the user message event made it out.
	assert.Equal(t, []EventType{EventMessageCreation}, eventTypes(events))
	assert.Empty(t, gw.messages)
}

func TestProduceTurnToolRoundLimit(t *testing.T) {
	gw := newFakeGateway()
	// Every round requests another tool call, forever.
	rounds := make([][]llm.Chunk, maxToolRounds)
	for i := range rounds {
		rounds[i] = []llm.Chunk{{ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "loop__trap", Arguments: "{}"}}}}
	}
	streamer := &fakeStreamer{rounds: rounds}
	dispatcher := &fakeDispatcher{tools: map[string]string{"loop__trap": "loop"}}
	svc := NewService(streamer, nil, log.NewNop())

	chatID := uuid.New()
	prior := []store.Message{userMessage(t, chatID, "go")}

	_, err := drainTurn(t, svc.ProduceTurn(context.Background(), gw, testAgent(), chatID, prior, dispatcher))
	assert.True(t, apperr.IsKind(err, apperr.KindRemoteServer))
	assert.Len(t, streamer.requests, maxToolRounds)
}

func TestCreateUserMessage(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(nil, nil, log.NewNop())
	chatID := uuid.New()

	msg, err := svc.CreateUserMessage(context.Background(), gw, chatID, "hello")
	require.NoError(t, err)
	assert.Equal(t, store.RoleUser, msg.Role)

	var blocks []UserContent
	require.NoError(t, json.Unmarshal(msg.Content, &blocks))
	assert.Equal(t, "hello", blocks[0].Content)
}

func TestCreateUserMessageEmptyText(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(nil, nil, log.NewNop())

	_, err := svc.CreateUserMessage(context.Background(), gw, uuid.New(), "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestGetMessagesOwnership(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(nil, nil, log.NewNop())

	owner := uuid.New()
	chatID := uuid.New()
	gw.chats[chatID] = &store.Chat{ID: chatID, UserID: owner}
	gw.messages = append(gw.messages, userMessage(t, chatID, "hi"))

	msgs, err := svc.GetMessages(context.Background(), gw, chatID, owner)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// Another user cannot see the chat, and cannot tell it exists.
	_, err = svc.GetMessages(context.Background(), gw, chatID, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

type fakeRegistry struct {
	servers []registry.Server
	queries []string
}

func (f *fakeRegistry) Search(_ context.Context, query string) ([]registry.Server, error) {
	f.queries = append(f.queries, query)
	return f.servers, nil
}

func TestToolManagerRouting(t *testing.T) {
	gw := newFakeGateway()
	reg := &fakeRegistry{servers: []registry.Server{{
		ID:   3,
		Name: "websearch",
		URL:  "https://search.example.com/mcp",
		Tools: []json.RawMessage{
			json.RawMessage(`{"name":"search","description":"Web search","input_schema":{"type":"object"}}`),
		},
	}}}
	svc := NewService(nil, reg, log.NewNop())

	mgr, err := svc.ToolManager(context.Background(), gw, testAgent(), "search the web", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"search the web"}, reg.queries)
	// Registry results are cached locally for later lookups.
	require.Len(t, gw.upserted, 1)
	assert.Equal(t, int64(3), gw.upserted[0].ID)

	tools := mgr.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "search__websearch", tools[0].Name)
}

func TestToolManagerAgentServers(t *testing.T) {
	gw := newFakeGateway()
	gw.servers = []store.DARPServer{{
		ID:    4,
		Name:  "weather",
		URL:   "https://weather.example.com/mcp",
		Tools: json.RawMessage(`[{"name":"forecast","description":"Forecasts"}]`),
	}}
	svc := NewService(nil, &fakeRegistry{}, log.NewNop())

	mgr, err := svc.ToolManager(context.Background(), gw, testAgent(), "ignored", false)
	require.NoError(t, err)

	tools := mgr.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "forecast__weather", tools[0].Name)
}
