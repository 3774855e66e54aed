package api

import (
	"net/http"

	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/store"
)

type serverHandler struct {
	store  *store.Store
	logger log.Logger
}

func (h *serverHandler) list(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if servers == nil {
		servers = []store.DARPServer{}
	}
	writeJSON(w, h.logger, http.StatusOK, servers)
}

func (h *serverHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "server_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	server, err := h.store.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, server)
}
