package api

import (
	"context"
	"net/http"
	"time"

	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/store"
)

// healthcheck reports liveness. The database is pinged so orchestrators
// restart the service when the pool is gone.
func healthcheck(s *store.Store, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.Ping(ctx); err != nil {
			logger.Error("healthcheck failed", "error", err)
			writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})
}
