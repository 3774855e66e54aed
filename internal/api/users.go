package api

import (
	"net/http"
	"strings"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/registry"
	"github.com/DARPAI/portal-backend/internal/store"
)

type userHandler struct {
	store    *store.Store
	registry *registry.Client
	defaults AgentDefaults
	logger   log.Logger
}

type createUserRequest struct {
	Name string `json:"name"`
}

// create registers a user and provisions their default agent. The agent is
// linked to the configured default DARP servers, resolved through the
// registry so the local cache holds their current tool catalogs.
func (h *userHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, h.logger, apperr.InvalidInput("User name must not be empty"))
		return
	}

	ctx := r.Context()

	var servers []registry.Server
	if len(h.defaults.ServerIDs) > 0 {
		var err error
		servers, err = h.registry.ServersByID(ctx, h.defaults.ServerIDs)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	var user *store.User
	err := h.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		user, err = q.CreateUser(ctx, req.Name)
		if err != nil {
			return err
		}

		agent, err := q.CreateAgent(ctx, store.CreateAgentParams{
			Name:        h.defaults.Name,
			Description: h.defaults.Description,
			Model:       h.defaults.Model,
			AvatarURL:   h.defaults.AvatarURL,
			CreatorID:   user.ID,
		})
		if err != nil {
			return err
		}

		if len(servers) == 0 {
			return nil
		}
		if err := q.UpsertServers(ctx, registryServerRows(servers)); err != nil {
			return err
		}
		ids := make([]int64, 0, len(servers))
		for _, srv := range servers {
			ids = append(ids, srv.ID)
		}
		return q.SetAgentServers(ctx, agent.ID, ids)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, user)
}

func (h *userHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, user)
}

func (h *userHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, h.logger, apperr.InvalidInput("User name must not be empty"))
		return
	}
	user, err := h.store.UpdateUser(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, user)
}

func (h *userHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
