// Package httpapi implements the OpenAI-compatible HTTP surface: bearer
// auth, /health, /v1/models, /v1/bridge/conversations,
// /v1/chat/completions (stream and non-stream), and the websocket
// progress stream.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/chatgpt-bridge/bridge/internal/config"
	"github.com/chatgpt-bridge/bridge/internal/core"
	"github.com/chatgpt-bridge/bridge/internal/middleware"
	"github.com/chatgpt-bridge/bridge/internal/metrics"
	"github.com/chatgpt-bridge/bridge/internal/progress"
)

const bridgeVersion = "1.0.0"

// Server bundles the dependencies the router needs.
type Server struct {
	Engine   *core.Engine
	Config   *config.Config
	Metrics  *metrics.Registry
	Progress *progress.Hub
}

// NewRouter builds the chi router implementing the HTTP surface.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(s.Config.AllowedOrigins))
	r.Use(s.responseHeaders)

	r.Get("/health", s.handleHealth)

	if s.Config.Metrics.Enabled && s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearerAuth)
		r.Get("/v1/models", s.handleModels)
		r.Get("/v1/bridge/conversations", s.handleConversations)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		if s.Config.Progress.Enabled && s.Progress != nil {
			r.Get("/v1/bridge/progress/{request_id}", s.handleProgressStream)
		}
	})

	return r
}

// responseHeaders stamps the fixed x-bridge-* headers named in §4.7 on
// every response, before the handler runs (values get overwritten by
// handlers that know more specific values).
func (s *Server) responseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		depth := s.Engine.Queue.Depth()
		s.Metrics.SetQueueDepth(depth)

		h := w.Header()
		h.Set("x-bridge-version", bridgeVersion)
		h.Set("x-bridge-queue-depth", strconv.Itoa(depth))
		h.Set("x-bridge-request-id", chiMiddleware.GetReqID(r.Context()))
		h.Set("x-bridge-context-reset", "0")
		h.Set("x-bridge-reset-strict", strconv.FormatBool(s.Config.Session.ResetStrict))
		h.Set("x-bridge-session-slot", "")
		h.Set("x-bridge-conversation-id", "")
		next.ServeHTTP(w, r)
	})
}
