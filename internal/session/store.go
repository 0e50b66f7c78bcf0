package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	atomicwriter "github.com/moby/sys/atomicwriter"
)

// fileFormat is the persisted JSON shape: a JSON file with top-level
// {bindings: {slot: conversation_id, ...}}.
type fileFormat struct {
	Bindings map[string]string `json:"bindings"`
}

// Store owns all SessionBindings; the write chain serializes concurrent
// writes while reads never block on it (a write replaces the in-memory map
// under a short-lived lock, so readers only ever observe a fully-written
// prior or new state, never a partial one).
type Store struct {
	path string

	mu       sync.RWMutex
	bindings map[string]string

	writeMu sync.Mutex // serializes the temp-file-then-rename chain
}

// NewStore loads path if it exists, or starts empty. A missing file is not
// an error: it means no bindings have been persisted yet.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, bindings: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, err
	}
	if ff.Bindings != nil {
		s.bindings = ff.Bindings
	}
	return s, nil
}

// Get returns the conversation bound to slot, if any.
func (s *Store) Get(slot string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bindings[slot]
	return v, ok
}

// Set persists slot -> conversationID, serializing writes on the chain
// mutex. The full map is re-serialized to a temp file in the same
// directory, then renamed over the target — readers never see a partial
// write, and no .tmp siblings survive a completed call.
func (s *Store) Set(slot, conversationID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.bindings[slot] = conversationID
	snapshot := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		snapshot[k] = v
	}
	s.mu.Unlock()

	return s.writeSnapshot(snapshot)
}

// Delete removes slot's binding (explicit delete, per the data model's
// SessionBinding lifecycle).
func (s *Store) Delete(slot string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.bindings, slot)
	snapshot := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		snapshot[k] = v
	}
	s.mu.Unlock()

	return s.writeSnapshot(snapshot)
}

func (s *Store) writeSnapshot(snapshot map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileFormat{Bindings: snapshot}, "", "  ")
	if err != nil {
		return err
	}
	return atomicwriter.WriteFile(s.path, data, 0o644)
}
