//go:build integration
// +build integration

package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/testutil"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	tdb, cleanup := testutil.SetupTestDB(t)
	return NewStore(tdb.Pool, log.NewNop()), cleanup
}

func seedUserAgentChat(t *testing.T, ctx context.Context, s *Store) (*User, *Agent, *Chat) {
	t.Helper()

	user, err := s.CreateUser(ctx, "alice")
	require.NoError(t, err)

	agent, err := s.CreateAgent(ctx, CreateAgentParams{
		Name:         "Helper",
		Description:  "General assistant",
		SystemPrompt: "You are helpful.",
		Model:        "anthropic/claude-3.7-sonnet",
		CreatorID:    user.ID,
	})
	require.NoError(t, err)

	chat, err := s.CreateChat(ctx, CreateChatParams{
		Title:   "First chat",
		UserID:  user.ID,
		AgentID: agent.ID,
	})
	require.NoError(t, err)

	return user, agent, chat
}

func TestUserCreateAndGet_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "bob", user.Name)
	assert.NotZero(t, user.CreatedAt)

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.GetUser(ctx, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAgentLifecycle_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user, agent, chat := seedUserAgentChat(t, ctx, s)

	byChat, err := s.GetAgentByChatID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byChat.ID)

	newName := "Researcher"
	newModel := "openai/gpt-4o"
	updated, err := s.UpdateAgent(ctx, agent.ID, UpdateAgentParams{
		Name:  &newName,
		Model: &newModel,
	})
	require.NoError(t, err)
	assert.Equal(t, "Researcher", updated.Name)
	assert.Equal(t, "openai/gpt-4o", updated.Model)
	// Untouched fields survive a partial update.
	assert.Equal(t, agent.SystemPrompt, updated.SystemPrompt)

	agents, err := s.ListAgentsByCreator(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	require.NoError(t, s.DeleteAgent(ctx, agent.ID))
	err = s.DeleteAgent(ctx, agent.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Chat cascades with its agent.
	_, err = s.GetChat(ctx, chat.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestMessagesOrderAndChatBump_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	_, _, chat := seedUserAgentChat(t, ctx, s)
	before := chat.UpdatedAt

	for _, text := range []string{"one", "two", "three"} {
		content, err := json.Marshal([]map[string]string{{"type": "text", "text": text}})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, CreateMessageParams{
			ChatID:  chat.ID,
			Role:    RoleUser,
			Content: content,
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	msgs, err := s.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[2].CreatedAt) || msgs[0].CreatedAt.Equal(msgs[2].CreatedAt))
	assert.Contains(t, string(msgs[0].Content), "one")
	assert.Contains(t, string(msgs[2].Content), "three")

	// The insert trigger bumps the chat's updated_at.
	bumped, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, bumped.UpdatedAt.After(before))
}

func TestChatListOrder_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user, agent, first := seedUserAgentChat(t, ctx, s)

	second, err := s.CreateChat(ctx, CreateChatParams{Title: "Second", UserID: user.ID, AgentID: agent.ID})
	require.NoError(t, err)

	// Activity in the first chat moves it back to the top.
	content, _ := json.Marshal([]map[string]string{{"type": "text", "text": "hi"}})
	_, err = s.CreateMessage(ctx, CreateMessageParams{ChatID: first.ID, Role: RoleUser, Content: content})
	require.NoError(t, err)

	chats, err := s.ListChatsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.ID, chats[0].ID)
	assert.Equal(t, second.ID, chats[1].ID)

	renamed, err := s.UpdateChatTitle(ctx, second.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	require.NoError(t, s.DeleteChat(ctx, second.ID))
	err = s.DeleteChat(ctx, second.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestServersUpsertAndLinks_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	_, agent, _ := seedUserAgentChat(t, ctx, s)

	tools := json.RawMessage(`[{"name":"search","description":"Web search"}]`)
	servers := []DARPServer{
		{ID: 1, Name: "search", URL: "https://search.example.com/mcp", Tools: tools, Transport: TransportSSE},
		{ID: 2, Name: "weather", URL: "https://weather.example.com/mcp"},
	}
	require.NoError(t, s.UpsertServers(ctx, servers))

	// Upsert refreshes rows in place, but never the transport: registry
	// payloads carry none and default to streamable_http.
	servers[0].Description = "Search the web"
	servers[0].Transport = ""
	require.NoError(t, s.UpsertServers(ctx, servers[:1]))

	got, err := s.GetServersByIDs(ctx, []int64{1, 2, 99})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Search the web", got[0].Description)
	assert.Equal(t, TransportSSE, got[0].Transport)
	assert.JSONEq(t, string(tools), string(got[0].Tools))
	assert.Equal(t, TransportStreamableHTTP, got[1].Transport)
	assert.JSONEq(t, "[]", string(got[1].Tools))

	require.NoError(t, s.SetAgentServers(ctx, agent.ID, []int64{1, 2}))
	linked, err := s.GetServersByAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)

	ids, err := s.GetServerIDsByAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	// Replacing the set drops stale links.
	require.NoError(t, s.SetAgentServers(ctx, agent.ID, []int64{2}))
	ids, err = s.GetServerIDsByAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestWithTxRollback_Integration(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	boom := errors.New("boom")
	var createdID uuid.UUID
	err := s.WithTx(ctx, func(q *Queries) error {
		u, err := q.CreateUser(ctx, "ghost")
		if err != nil {
			return err
		}
		createdID = u.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetUser(ctx, createdID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
