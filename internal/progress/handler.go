package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Handler upgrades GET /v1/bridge/progress/{request_id} to a websocket and
// streams that request's Events until the client disconnects or the
// subscription is torn down by the publisher side finishing the request.
type Handler struct {
	Hub           *Hub
	AllowedOrigin string
}

// NewHandler builds a Handler over hub.
func NewHandler(hub *Hub, allowedOrigin string) *Handler {
	return &Handler{Hub: hub, AllowedOrigin: allowedOrigin}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, requestID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{h.originPattern()},
	})
	if err != nil {
		slog.Error("progress websocket accept failed", "error", err, "request_id", requestID)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "stream ended")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.Hub.Subscribe(requestID)
	defer unsubscribe()

	// Drain client reads only to detect disconnects; the client never
	// sends meaningful payloads on this stream.
	go func() {
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			if ev.Stage == StageDone || ev.Stage == StageError {
				return
			}
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				slog.Debug("progress stream context error", "error", ctx.Err())
			}
			return
		}
	}
}

func (h *Handler) originPattern() string {
	if h.AllowedOrigin == "" {
		return "*"
	}
	return h.AllowedOrigin
}
