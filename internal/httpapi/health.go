package httpapi

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	OK           bool   `json:"ok"`
	Ready        bool   `json:"ready"`
	Mode         string `json:"mode"`
	QueueDepth   int    `json:"queueDepth"`
	Version      string `json:"version"`
	UIAutomation string `json:"uiAutomation"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.Engine.Health(r.Context())

	resp := healthResponse{
		Mode:       string(s.Config.Mode),
		QueueDepth: s.Engine.Queue.Depth(),
		Version:    bridgeVersion,
	}
	if err != nil {
		resp.OK = false
		resp.Ready = false
		resp.UIAutomation = "unavailable"
	} else {
		resp.OK = health.OK
		resp.Ready = health.OK
		resp.UIAutomation = string(health.Accessibility)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
