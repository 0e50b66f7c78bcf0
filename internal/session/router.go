// Package session implements the Session Router: conversation-binding
// resolution across off/sticky/explicit modes and atomic persistence of
// slot -> conversation_id mappings.
package session

import (
	"strings"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
)

// Mode is one of the three routing modes.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeSticky   Mode = "sticky"
	ModeExplicit Mode = "explicit"
)

// Resolution is what the router decided for one request.
type Resolution struct {
	Slot               string
	ConversationID     string // "" means "unspecified, continue active conversation"
	FromBodySource     bool   // conversation_id came from the request body, not a persisted binding
}

// NormalizeSlot trims and lowercases a slot name, substituting defaultSlot
// when empty.
func NormalizeSlot(slot, defaultSlot string) string {
	slot = strings.ToLower(strings.TrimSpace(slot))
	if slot == "" {
		return strings.ToLower(strings.TrimSpace(defaultSlot))
	}
	return slot
}

// Router resolves bindings and owns the persisted Store.
type Router struct {
	Mode        Mode
	DefaultSlot string
	StrictOpen  bool
	Store       *Store
}

// NewRouter constructs a Router over an already-loaded Store.
func NewRouter(mode Mode, defaultSlot string, strictOpen bool, store *Store) *Router {
	return &Router{Mode: mode, DefaultSlot: defaultSlot, StrictOpen: strictOpen, Store: store}
}

// Resolve implements §4.8's per-mode resolution. slot and conversationID
// are the request's raw session_key/conversation_id fields (conversationID
// may be "").
func (r *Router) Resolve(slot, conversationID string) (Resolution, error) {
	normSlot := NormalizeSlot(slot, r.DefaultSlot)
	conversationID = strings.TrimSpace(conversationID)

	switch r.Mode {
	case ModeOff:
		return Resolution{Slot: "", ConversationID: ""}, nil

	case ModeExplicit:
		if conversationID == "" {
			return Resolution{}, bridgeerr.New(bridgeerr.InvalidRequest, "conversation_id is required in explicit session-binding mode")
		}
		return Resolution{Slot: normSlot, ConversationID: conversationID, FromBodySource: true}, nil

	case ModeSticky:
		if conversationID != "" {
			return Resolution{Slot: normSlot, ConversationID: conversationID, FromBodySource: true}, nil
		}
		if bound, ok := r.Store.Get(normSlot); ok {
			return Resolution{Slot: normSlot, ConversationID: bound, FromBodySource: false}, nil
		}
		return Resolution{Slot: normSlot, ConversationID: ""}, nil

	default:
		return Resolution{Slot: "", ConversationID: ""}, nil
	}
}

// Persist implements the post-ask write rule: only when the driver
// reports an opened conversation id and the mode is sticky+body-source or
// explicit.
func (r *Router) Persist(res Resolution, openedConversationID string) error {
	if openedConversationID == "" {
		return nil
	}
	if r.Mode == ModeSticky && res.FromBodySource {
		return r.Store.Set(res.Slot, openedConversationID)
	}
	if r.Mode == ModeExplicit {
		return r.Store.Set(res.Slot, openedConversationID)
	}
	return nil
}
