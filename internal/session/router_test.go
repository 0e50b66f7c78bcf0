package session

import (
	"path/filepath"
	"testing"
)

func newRouter(t *testing.T, mode Mode, strictOpen bool) *Router {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewRouter(mode, "default", strictOpen, store)
}

func TestResolveOffModeIgnoresEverything(t *testing.T) {
	r := newRouter(t, ModeOff, false)
	res, err := r.Resolve("work", "conv-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Slot != "" || res.ConversationID != "" {
		t.Fatalf("off mode should resolve to an empty slot and conversation, got %+v", res)
	}
}

func TestResolveExplicitModeRequiresConversationID(t *testing.T) {
	r := newRouter(t, ModeExplicit, false)
	if _, err := r.Resolve("work", ""); err == nil {
		t.Fatal("explicit mode should reject a missing conversation_id")
	}
	res, err := r.Resolve("work", "conv-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Slot != "work" || res.ConversationID != "conv-1" || !res.FromBodySource {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveStickyModePrefersBodyThenBinding(t *testing.T) {
	r := newRouter(t, ModeSticky, false)

	res, err := r.Resolve("work", "conv-body")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ConversationID != "conv-body" || !res.FromBodySource {
		t.Fatalf("sticky mode should prefer the body-supplied conversation id, got %+v", res)
	}

	r.Store.Set("work", "conv-bound")
	res2, err := r.Resolve("work", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res2.ConversationID != "conv-bound" || res2.FromBodySource {
		t.Fatalf("sticky mode should fall back to the persisted binding, got %+v", res2)
	}
}

func TestResolveNormalizesSlot(t *testing.T) {
	r := newRouter(t, ModeSticky, false)
	res, err := r.Resolve("  WORK  ", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Slot != "work" {
		t.Fatalf("slot should be trimmed and lowercased, got %q", res.Slot)
	}
}

func TestPersistStickyOnlyWritesBodySourced(t *testing.T) {
	r := newRouter(t, ModeSticky, false)
	boundRes, _ := r.Resolve("work", "")
	if err := r.Persist(boundRes, "conv-new"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok := r.Store.Get("work"); ok {
		t.Fatal("Persist should not write a binding that wasn't body-sourced")
	}

	bodyRes, _ := r.Resolve("work", "conv-explicit")
	if err := r.Persist(bodyRes, "conv-opened"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	got, ok := r.Store.Get("work")
	if !ok || got != "conv-opened" {
		t.Fatalf("Persist should write the opened conversation id for a body-sourced resolution, got (%q, %v)", got, ok)
	}
}

func TestPersistNoOpWhenNoOpenedConversation(t *testing.T) {
	r := newRouter(t, ModeExplicit, false)
	res, _ := r.Resolve("work", "conv-1")
	if err := r.Persist(res, ""); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok := r.Store.Get("work"); ok {
		t.Fatal("Persist should not write anything when openedConversationID is empty")
	}
}
