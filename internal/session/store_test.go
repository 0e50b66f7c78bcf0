package session

import (
	"path/filepath"
	"testing"
)

func TestNewStoreMissingFileStartsEmpty(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewStore on a missing file should not error: %v", err)
	}
	if _, ok := s.Get("default"); ok {
		t.Fatal("a fresh store should have no bindings")
	}
}

func TestSetThenGet(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Set("default", "conv-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := s.Get("default")
	if !ok || got != "conv-123" {
		t.Fatalf("Get after Set = (%q, %v), want (conv-123, true)", got, ok)
	}
}

func TestSetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	s1, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s1.Set("work", "conv-abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	got, ok := s2.Get("work")
	if !ok || got != "conv-abc" {
		t.Fatalf("reloaded store Get = (%q, %v), want (conv-abc, true)", got, ok)
	}
}

func TestDeleteRemovesBinding(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Set("default", "conv-1")
	if err := s.Delete("default"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("default"); ok {
		t.Fatal("Get after Delete should report no binding")
	}
}
