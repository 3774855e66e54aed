package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/DARPAI/portal-backend/internal/message"
)

type createMessageRequest struct {
	Data    messageData `json:"data"`
	Routing bool        `json:"routing"`
}

type messageData struct {
	Text string `json:"text"`
}

// createMessage runs one chat turn and streams its events over SSE.
//
// Everything up to the first event can still fail with a regular HTTP
// status. Once streaming starts, failures surface as an in-band error
// event.
//
// The whole turn runs on one transaction, committed only after the event
// stream drains cleanly. A failed or abandoned turn leaves no partial
// history behind.
func (h *chatHandler) createMessage(w http.ResponseWriter, r *http.Request) {
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
	var req createMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	tx, q, err := h.store.Begin(ctx)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			h.logger.Warn("turn rollback failed", "error", rbErr, "chat_id", chatID)
		}
	}()

	agent, err := h.service.TurnAgent(ctx, q, chatID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	prior, err := q.ListMessages(ctx, chatID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	userMsg, err := h.service.CreateUserMessage(ctx, q, chatID, req.Data.Text)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	mgr, err := h.service.ToolManager(ctx, q, agent, req.Data.Text, req.Routing)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	prior = append(prior, *userMsg)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.logger.Debug("turn stream started", "chat_id", chatID, "agent_id", agent.ID)

	for event, err := range h.service.ProduceTurn(ctx, q, agent, chatID, prior, mgr) {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected mid-turn", "chat_id", chatID)
			return
		default:
		}

		if err != nil {
			h.logger.Error("turn failed", "error", err, "chat_id", chatID)
			_ = writeSSEEvent(w, flusher, message.ErrorEvent(err))
			return
		}
		if err := writeSSEEvent(w, flusher, event); err != nil {
			// Write failure usually means the connection closed.
			h.logger.Debug("failed to write turn event", "error", err, "chat_id", chatID)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("turn commit failed", "error", err, "chat_id", chatID)
		_ = writeSSEEvent(w, flusher, message.ErrorEvent(err))
		return
	}
	committed = true

	h.logger.Debug("turn stream completed", "chat_id", chatID)
}

// writeSSEEvent writes one turn event in SSE framing:
// "event: <type>\ndata: <json>\n\n". The data payload carries the full
// event envelope so clients can ignore the SSE event name.
func writeSSEEvent(w io.Writer, flusher http.Flusher, event message.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
