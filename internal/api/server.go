// Package api exposes the portal over HTTP: JSON CRUD for users, agents,
// chats and servers, plus the SSE endpoint that streams a chat turn.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DARPAI/portal-backend/internal/config"
	"github.com/DARPAI/portal-backend/internal/log"
	"github.com/DARPAI/portal-backend/internal/message"
	"github.com/DARPAI/portal-backend/internal/registry"
	"github.com/DARPAI/portal-backend/internal/store"
)

// AgentDefaults describes the agent provisioned for every new user.
type AgentDefaults struct {
	Name        string
	Description string
	AvatarURL   string
	Model       string
	ServerIDs   []int64
}

// DefaultsFromConfig builds AgentDefaults from application configuration.
func DefaultsFromConfig(cfg *config.Config) AgentDefaults {
	ids := make([]int64, 0, len(cfg.DefaultAgentServerIDs))
	for _, id := range cfg.DefaultAgentServerIDs {
		ids = append(ids, int64(id))
	}
	return AgentDefaults{
		Name:        cfg.DefaultAgentName,
		Description: cfg.DefaultAgentDescription,
		AvatarURL:   cfg.DefaultAvatarURL,
		Model:       cfg.DefaultModel,
		ServerIDs:   ids,
	}
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Store       *store.Store     // Required
	Service     *message.Service // Required
	Registry    *registry.Client // Required
	Defaults    AgentDefaults
	CORSOrigins []string // Allowed origins for CORS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("message service is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	uh := &userHandler{
		store:    cfg.Store,
		registry: cfg.Registry,
		defaults: cfg.Defaults,
		logger:   logger,
	}
	ah := &agentHandler{
		store:        cfg.Store,
		registry:     cfg.Registry,
		defaultModel: cfg.Defaults.Model,
		logger:       logger,
	}
	ch := &chatHandler{
		store:   cfg.Store,
		service: cfg.Service,
		logger:  logger,
	}
	sh := &serverHandler{
		store:  cfg.Store,
		logger: logger,
	}

	mux := http.NewServeMux()

	// Users
	mux.HandleFunc("POST /users", uh.create)
	mux.HandleFunc("GET /users/{user_id}", uh.get)
	mux.HandleFunc("PUT /users/{user_id}", uh.update)
	mux.HandleFunc("DELETE /users/{user_id}", uh.delete)

	// Agents
	mux.HandleFunc("POST /agents", ah.create)
	mux.HandleFunc("GET /agents", ah.list)
	mux.HandleFunc("GET /agents/{agent_id}", ah.get)
	mux.HandleFunc("PUT /agents/{agent_id}", ah.update)
	mux.HandleFunc("DELETE /agents/{agent_id}", ah.delete)

	// Chats and the streaming turn endpoint
	mux.HandleFunc("POST /chats", ch.create)
	mux.HandleFunc("GET /chats", ch.list)
	mux.HandleFunc("GET /chats/{chat_id}", ch.get)
	mux.HandleFunc("PUT /chats/{chat_id}", ch.update)
	mux.HandleFunc("DELETE /chats/{chat_id}", ch.delete)
	mux.HandleFunc("GET /chats/{chat_id}/messages", ch.listMessages)
	mux.HandleFunc("POST /chats/{chat_id}/messages", ch.createMessage)

	// DARP server cache
	mux.HandleFunc("GET /servers", sh.list)
	mux.HandleFunc("GET /servers/{server_id}", sh.get)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to separate the health probe from the middleware
	// stack.
	topMux := http.NewServeMux()
	topMux.Handle("GET /healthcheck", healthcheck(cfg.Store, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
