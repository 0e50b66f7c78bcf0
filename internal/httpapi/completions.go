package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/core"
	"github.com/chatgpt-bridge/bridge/internal/prompt"
)

func writePromptTooLarge(w http.ResponseWriter) {
	w.Header().Set("x-should-retry", "false")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": "request body exceeds size limit", "type": "prompt_too_large"},
	})
}

// maxBodyBytes bounds the raw request body; exceeding it yields
// 413 prompt_too_large per §4.7.
const maxBodyBytes = 2 << 20 // 2MB

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bridgeFileRef struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	SessionKey     string          `json:"session_key,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	StrictOpen     bool            `json:"strict_open,omitempty"`
	BridgeFiles    []bridgeFileRef `json:"bridge_files,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writePromptTooLarge(w)
			return
		}
		writeInvalidRequest(w, err.Error())
		return
	}

	requestID := chiMiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = core.NewRequestID()
	}

	messages := make([]prompt.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, prompt.Message{Role: m.Role, Content: m.Content})
	}

	var fileContext *prompt.FileContextBlock
	if s.Config.FileContext.Enabled && len(body.BridgeFiles) > 0 {
		files := make([]prompt.BridgeFile, 0, len(body.BridgeFiles))
		for _, f := range body.BridgeFiles {
			files = append(files, prompt.BridgeFile{Path: f.Path, Label: f.Label})
		}
		fileContext = &prompt.FileContextBlock{
			Files:         files,
			AllowedRoots:  s.Config.FileContext.AllowedRoots,
			MaxFileChars:  s.Config.FileContext.MaxFileChars,
			MaxTotalChars: s.Config.FileContext.MaxTotalChars,
			Diagnostics:   &prompt.Diagnostics{},
		}
	}

	req := core.CompletionRequest{
		RequestID:      requestID,
		Messages:       messages,
		SessionSlot:    body.SessionKey,
		ConversationID: body.ConversationID,
		StrictOpen:     body.StrictOpen,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		FileContext:    fileContext,
	}

	start := time.Now()
	result, err := s.Engine.Complete(r.Context(), req)
	s.Metrics.ObserveRequestDuration("/v1/chat/completions", time.Since(start).Seconds())
	if err != nil {
		berr := bridgeerr.As(err)
		writeSessionHeaders(w, "", "", berr.ContextReset != nil && *berr.ContextReset == 1, s.Config.Session.ResetStrict)
		if body.Stream {
			s.streamError(w, err)
			return
		}
		writeBridgeError(w, err)
		return
	}

	writeSessionHeaders(w, result.SessionSlot, result.ConversationID, result.ContextReset, s.Config.Session.ResetStrict)

	if body.Stream {
		s.streamCompletion(w, result, body.Model)
		return
	}
	s.writeCompletion(w, result, body.Model)
}

func writeSessionHeaders(w http.ResponseWriter, slot, conversationID string, contextReset, resetStrict bool) {
	h := w.Header()
	h.Set("x-bridge-session-slot", slot)
	h.Set("x-bridge-conversation-id", conversationID)
	h.Set("x-bridge-context-reset", boolTo01(contextReset))
	h.Set("x-bridge-reset-strict", strconv.FormatBool(resetStrict))
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Server) writeCompletion(w http.ResponseWriter, result core.CompletionResult, model string) {
	resp := chatCompletionResponse{
		ID:      "chatcmpl-" + result.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   firstNonEmptyModel(model),
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Text},
			FinishReason: "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func firstNonEmptyModel(model string) string {
	if model != "" {
		return model
	}
	return bridgeModelID
}

func writeInvalidRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("x-should-retry", "false")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request"},
	})
}
