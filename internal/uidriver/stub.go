package uidriver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubBackend is an in-process Backend used when UI_DRIVER_ADDR is unset.
// It never touches real accessibility APIs; it echoes the prompt back
// after a configurable delay, long enough to exercise admission
// coalescing and poll-loop stability gating in tests and local dev.
type StubBackend struct {
	mu            sync.Mutex
	conversations []string
	lastPrompt    string
	Delay         time.Duration
	Reply         string
}

// NewStubBackend returns a stub whose Scrape returns the last pasted
// prompt followed by reply after delay; reply == "" defaults to "ok".
func NewStubBackend(delay time.Duration, reply string) *StubBackend {
	if reply == "" {
		reply = "ok"
	}
	return &StubBackend{Delay: delay, Reply: reply, conversations: []string{}}
}

func (s *StubBackend) Health(ctx context.Context) (Health, error) {
	running := true
	return Health{OK: true, Accessibility: AccessibilityGranted, AppRunning: &running}, nil
}

func (s *StubBackend) EnsureRunning(ctx context.Context) error        { return nil }
func (s *StubBackend) EnsureWindowAvailable(ctx context.Context) error { return nil }

func (s *StubBackend) ResetChat(ctx context.Context, strict bool) (bool, error) {
	return true, nil
}

func (s *StubBackend) OpenConversation(ctx context.Context, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c == title {
			return true, nil
		}
	}
	s.conversations = append(s.conversations, title)
	return true, nil
}

func (s *StubBackend) AcquireClipboard(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func (s *StubBackend) Paste(ctx context.Context, text string) error {
	s.mu.Lock()
	s.lastPrompt = text
	s.mu.Unlock()
	return nil
}

func (s *StubBackend) Submit(ctx context.Context) error { return nil }

func (s *StubBackend) Scrape(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	prompt := s.lastPrompt
	reply := s.Reply
	delay := s.Delay
	s.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return fmt.Sprintf("%s\n\n%s", prompt, reply), nil
}

func (s *StubBackend) GetConversations(ctx context.Context, requestID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.conversations))
	copy(out, s.conversations)
	return out, nil
}
