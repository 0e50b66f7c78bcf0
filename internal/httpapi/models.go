package httpapi

import (
	"encoding/json"
	"net/http"
)

// bridgeModelID is the single fixed model id this bridge exposes,
// matching whatever OpenAI-compatible clients expect to select.
const bridgeModelID = "chatgpt-bridge"

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := modelsListResponse{
		Object: "list",
		Data: []modelObject{
			{ID: bridgeModelID, Object: "model", OwnedBy: "chatgpt-bridge"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
