package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/core"
)

type chatCompletionChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatCompletionChunkChoice struct {
	Index        int                       `json:"index"`
	Delta        chatCompletionChunkDelta `json:"delta"`
	FinishReason *string                   `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string                       `json:"id"`
	Object  string                       `json:"object"`
	Created int64                        `json:"created"`
	Model   string                       `json:"model"`
	Choices []chatCompletionChunkChoice `json:"choices"`
}

// streamCompletion emits the three-frame SSE sequence named in §4.7: a
// role-only delta, the full-text delta, then [DONE]. The UI transaction
// has already completed by the time this is called, so there is nothing
// left to fail mid-stream on the success path.
func (s *Server) streamCompletion(w http.ResponseWriter, result core.CompletionResult, model string) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	created := time.Now().Unix()
	modelID := firstNonEmptyModel(model)
	id := "chatcmpl-" + result.RequestID

	writeChunk(w, chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelID,
		Choices: []chatCompletionChunkChoice{{Index: 0, Delta: chatCompletionChunkDelta{Role: "assistant"}}},
	})
	if flusher != nil {
		flusher.Flush()
	}

	writeChunk(w, chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelID,
		Choices: []chatCompletionChunkChoice{{Index: 0, Delta: chatCompletionChunkDelta{Content: result.Text}}},
	})
	if flusher != nil {
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func writeChunk(w http.ResponseWriter, chunk chatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// streamError sends a single OpenAI-style error JSON frame and closes,
// with no terminating [DONE] frame, for the rare pre-emission error path.
func (s *Server) streamError(w http.ResponseWriter, err error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	berr := bridgeerr.As(err)
	w.Header().Set("x-should-retry", "false")
	if berr.RetryAfterS > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(berr.RetryAfterS))
	}
	w.WriteHeader(berr.HTTPStatus())

	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": berr.Message, "type": berr.Kind},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
