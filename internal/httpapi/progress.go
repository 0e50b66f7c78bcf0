package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatgpt-bridge/bridge/internal/progress"
)

func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	handler := progress.NewHandler(s.Progress, "")
	handler.ServeHTTP(w, r, requestID)
}
