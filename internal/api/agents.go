package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/registry"
	"github.com/DARPAI/portal-backend/internal/store"
)

type agentHandler struct {
	store        *store.Store
	registry     *registry.Client
	defaultModel string
	logger       log.Logger
}

type createAgentRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	SystemPrompt string  `json:"system_prompt"`
	Model        string  `json:"model"`
	AvatarURL    string  `json:"avatar_url"`
	ServerIDs    []int64 `json:"server_ids"`
}

type updateAgentRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	SystemPrompt *string  `json:"system_prompt"`
	Model        *string  `json:"model"`
	AvatarURL    *string  `json:"avatar_url"`
	ServerIDs    *[]int64 `json:"server_ids"`
}

// agentResponse is an agent together with its linked server ids.
type agentResponse struct {
	store.Agent
	ServerIDs []int64 `json:"server_ids"`
}

func (h *agentHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, h.logger, apperr.InvalidInput("Agent name must not be empty"))
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	ctx := r.Context()

	// Server ids are resolved through the registry before anything is
	// written, so a bogus id fails the whole request.
	servers, err := h.resolveServers(ctx, req.ServerIDs)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var agent *store.Agent
	err = h.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		agent, err = q.CreateAgent(ctx, store.CreateAgentParams{
			Name:         req.Name,
			Description:  req.Description,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
			AvatarURL:    req.AvatarURL,
			CreatorID:    userID,
		})
		if err != nil {
			return err
		}
		return h.linkServers(ctx, q, agent.ID, servers)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, agentResponse{
		Agent:     *agent,
		ServerIDs: serverIDs(servers),
	})
}

func (h *agentHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	agents, err := h.store.ListAgentsByCreator(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	writeJSON(w, h.logger, http.StatusOK, agents)
}

func (h *agentHandler) get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ids, err := h.store.GetServerIDsByAgent(r.Context(), agent.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, agentResponse{Agent: *agent, ServerIDs: ids})
}

func (h *agentHandler) update(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req updateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ctx := r.Context()

	var servers []registry.Server
	if req.ServerIDs != nil {
		servers, err = h.resolveServers(ctx, *req.ServerIDs)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	var updated *store.Agent
	err = h.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		updated, err = q.UpdateAgent(ctx, agent.ID, store.UpdateAgentParams{
			Name:         req.Name,
			Description:  req.Description,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
			AvatarURL:    req.AvatarURL,
		})
		if err != nil {
			return err
		}
		if req.ServerIDs == nil {
			return nil
		}
		return h.linkServers(ctx, q, agent.ID, servers)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ids, err := h.store.GetServerIDsByAgent(ctx, agent.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, agentResponse{Agent: *updated, ServerIDs: ids})
}

func (h *agentHandler) delete(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedAgent loads the agent from the path and verifies it belongs to the
// calling user. Foreign agents look like missing ones.
func (h *agentHandler) ownedAgent(r *http.Request) (*store.Agent, error) {
	userID, err := currentUserID(r)
	if err != nil {
		return nil, err
	}
	agentID, err := pathUUID(r, "agent_id")
	if err != nil {
		return nil, err
	}
	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		return nil, err
	}
	if agent.CreatorID != userID {
		return nil, apperr.NotFound("Agent not found")
	}
	return agent, nil
}

func (h *agentHandler) resolveServers(ctx context.Context, ids []int64) ([]registry.Server, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return h.registry.ServersByID(ctx, ids)
}

func (h *agentHandler) linkServers(ctx context.Context, q *store.Queries, agentID uuid.UUID, servers []registry.Server) error {
	if err := q.UpsertServers(ctx, registryServerRows(servers)); err != nil {
		return err
	}
	return q.SetAgentServers(ctx, agentID, serverIDs(servers))
}

// registryServerRows converts registry entries into local cache rows.
// The registry does not report a transport protocol; rows default to
// streamable HTTP.
func registryServerRows(servers []registry.Server) []store.DARPServer {
	rows := make([]store.DARPServer, 0, len(servers))
	for _, srv := range servers {
		tools, err := json.Marshal(srv.Tools)
		if err != nil {
			tools = []byte("[]")
		}
		rows = append(rows, store.DARPServer{
			ID:          srv.ID,
			Name:        srv.Name,
			URL:         srv.URL,
			Description: srv.Description,
			LogoURL:     srv.Logo,
			Transport:   store.TransportStreamableHTTP,
			Tools:       tools,
		})
	}
	return rows
}

func serverIDs(servers []registry.Server) []int64 {
	ids := make([]int64, 0, len(servers))
	for _, srv := range servers {
		ids = append(ids, srv.ID)
	}
	return ids
}
