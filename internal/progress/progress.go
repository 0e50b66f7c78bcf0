// Package progress implements the websocket progress stream: one
// best-effort fan-out channel per in-flight request_id, grounded on the
// teacher's WebSocketHandler/TerminalMonitor non-blocking send pattern.
package progress

import (
	"sync"
	"time"
)

// Stage is one of the coarse phases a request passes through.
type Stage string

const (
	StageAdmitted   Stage = "admitted"
	StageQueued     Stage = "queued"
	StageUIWorking  Stage = "ui_working"
	StagePolling    Stage = "polling"
	StageStable     Stage = "stable"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// Event is one broadcastable progress update.
type Event struct {
	RequestID string    `json:"request_id"`
	Stage     Stage     `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// subscriberBuffer bounds how many undelivered events a slow subscriber can
// accumulate before further sends are dropped rather than blocking the
// publisher, mirroring sendToSidebar's select/default non-blocking send.
const subscriberBuffer = 32

type topic struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// Hub fans progress events out to any number of subscribers per
// request_id. Publishing never blocks: a subscriber that falls behind
// simply misses events rather than stalling the request it is watching.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topicFor(requestID string, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[requestID]
	if !ok {
		if !create {
			return nil
		}
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[requestID] = t
	}
	return t
}

// Subscribe registers a new listener for requestID and returns the channel
// to read from plus an unsubscribe func. Call unsubscribe when the
// connection closes.
func (h *Hub) Subscribe(requestID string) (ch <-chan Event, unsubscribe func()) {
	t := h.topicFor(requestID, true)
	c := make(chan Event, subscriberBuffer)

	t.mu.Lock()
	t.subs[c] = struct{}{}
	t.mu.Unlock()

	return c, func() {
		t.mu.Lock()
		if _, ok := t.subs[c]; ok {
			delete(t.subs, c)
			close(c)
		}
		empty := len(t.subs) == 0
		t.mu.Unlock()

		if empty {
			h.mu.Lock()
			if cur, ok := h.topics[requestID]; ok && cur == t {
				delete(h.topics, requestID)
			}
			h.mu.Unlock()
		}
	}
}

// Publish broadcasts ev to every current subscriber of ev.RequestID.
// No-op if nobody is listening.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	t := h.topicFor(ev.RequestID, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.subs {
		select {
		case c <- ev:
		default:
			// slow subscriber: drop rather than block the publisher.
		}
	}
}
