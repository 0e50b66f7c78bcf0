package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/core"
)

type conversationsResponse struct {
	Conversations []string `json:"conversations"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	requestID := chiMiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = core.NewRequestID()
	}
	w.Header().Set("x-bridge-request-id", requestID)

	titles, err := s.Engine.GetConversations(r.Context(), requestID)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversationsResponse{Conversations: titles})
}

func writeBridgeError(w http.ResponseWriter, err error) {
	berr := bridgeerr.As(err)
	w.Header().Set("x-should-retry", "false")
	if berr.RetryAfterS > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(berr.RetryAfterS))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(berr.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": berr.Message,
			"type":    berr.Kind,
			"details": berr.Details,
		},
	})
}
