package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/message"
	"github.com/DARPAI/portal-backend/internal/store"
)

type chatHandler struct {
	store   *store.Store
	service *message.Service
	logger  log.Logger
}

type createChatRequest struct {
	AgentID uuid.UUID `json:"agent_id"`
	Title   string    `json:"title"`
}

type updateChatRequest struct {
	Title string `json:"title"`
}

func (h *chatHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.AgentID == uuid.Nil {
		writeError(w, h.logger, apperr.InvalidInput("agent_id is required"))
		return
	}

	ctx := r.Context()

	// The agent must exist and be visible to the user before a chat can
	// reference it.
	agent, err := h.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if agent.CreatorID != userID {
		writeError(w, h.logger, apperr.NotFound("Agent not found"))
		return
	}

	chat, err := h.store.CreateChat(ctx, store.CreateChatParams{
		Title:   req.Title,
		UserID:  userID,
		AgentID: req.AgentID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, chat)
}

func (h *chatHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	chats, err := h.store.ListChatsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, h.logger, http.StatusOK, chats)
}

func (h *chatHandler) get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, chat)
}

func (h *chatHandler) update(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req updateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	updated, err := h.store.UpdateChatTitle(r.Context(), chat.ID, req.Title)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, updated)
}

func (h *chatHandler) delete(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.DeleteChat(r.Context(), chat.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listMessages returns a chat's history, oldest first, with optional
// limit/offset paging.
func (h *chatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	chatID, err := pathUUID(r, "chat_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	messages, err := h.service.GetMessages(r.Context(), h.store.Queries, chatID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if offset > len(messages) {
		offset = len(messages)
	}
	messages = messages[offset:]
	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, h.logger, http.StatusOK, messages)
}

// ownedChat loads the chat from the path and verifies it belongs to the
// calling user. Foreign chats look like missing ones.
func (h *chatHandler) ownedChat(r *http.Request) (*store.Chat, error) {
	userID, err := currentUserID(r)
	if err != nil {
		return nil, err
	}
	chatID, err := pathUUID(r, "chat_id")
	if err != nil {
		return nil, err
	}
	chat, err := h.store.GetChat(r.Context(), chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, apperr.NotFound("Chat with this id does not exist")
	}
	return chat, nil
}
