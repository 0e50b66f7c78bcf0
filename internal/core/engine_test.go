package core

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/admission"
	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/config"
	"github.com/chatgpt-bridge/bridge/internal/idempotency"
	"github.com/chatgpt-bridge/bridge/internal/prompt"
	"github.com/chatgpt-bridge/bridge/internal/session"
	"github.com/chatgpt-bridge/bridge/internal/uidriver"
)

// countingDriver wraps a uidriver.Driver and counts Ask invocations, so
// tests can assert single-flight coalescing produced exactly one UI
// transaction.
type countingDriver struct {
	inner     uidriver.Driver
	askCalls  int32
	mu        sync.Mutex
	lastAsked uidriver.AskRequest
}

func (d *countingDriver) Health(ctx context.Context) (uidriver.Health, error) {
	return d.inner.Health(ctx)
}

func (d *countingDriver) GetConversations(ctx context.Context, requestID string) ([]string, error) {
	return d.inner.GetConversations(ctx, requestID)
}

func (d *countingDriver) Ask(ctx context.Context, req uidriver.AskRequest) (uidriver.AskResult, error) {
	atomic.AddInt32(&d.askCalls, 1)
	d.mu.Lock()
	d.lastAsked = req
	d.mu.Unlock()
	return d.inner.Ask(ctx, req)
}

func newTestEngine(t *testing.T, backend *uidriver.StubBackend) (*Engine, *countingDriver) {
	t.Helper()

	cfg := &config.Config{
		MaxQueueSize: 20,
		JobTimeoutMS: 5_000,
		Poll: config.PollConfig{
			MaxWaitSec:                 2,
			PollIntervalSec:            0.01,
			StableChecks:               3,
			ExtractNoIndicatorStableMS: 10,
			ScrapeCallTimeoutMS:        500,
		},
		Prompt: config.PromptConfig{
			MaxPromptChars:  512_000,
			MaxMessageChars: 512_000,
		},
		RateLimit: config.RateLimitConfig{RPM: 600, Burst: 600},
		Session: config.SessionConfig{
			BindingMode: "off",
			DefaultSlot: "default",
		},
	}

	store, err := session.NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	router := session.NewRouter(session.Mode(cfg.Session.BindingMode), cfg.Session.DefaultSlot, cfg.Session.StrictOpen, store)

	inner := uidriver.NewGenericDriver(backend, uidriver.PollConfig{
		PollInterval:             time.Duration(cfg.Poll.PollIntervalSec * float64(time.Second)),
		MaxWait:                  time.Duration(cfg.Poll.MaxWaitSec) * time.Second,
		StableChecks:             cfg.Poll.StableChecks,
		ExtractNoIndicatorStable: time.Duration(cfg.Poll.ExtractNoIndicatorStableMS) * time.Millisecond,
		ScrapeCallTimeout:        time.Duration(cfg.Poll.ScrapeCallTimeoutMS) * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	counting := &countingDriver{inner: inner}

	engine := &Engine{
		Config:       cfg,
		Driver:       counting,
		Router:       router,
		SingleFlight: admission.NewSingleFlight(),
		Queue:        admission.NewQueue(cfg.MaxQueueSize, 5*time.Second, 10),
		Limiter:      admission.NewLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst),
		MarkerSecret: "test-secret",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return engine, counting
}

func userMessage(text string) []prompt.Message {
	return []prompt.Message{{Role: "user", Content: text}}
}

func TestEngineCompleteHappyPath(t *testing.T) {
	backend := uidriver.NewStubBackend(5*time.Millisecond, "hi there")
	engine, _ := newTestEngine(t, backend)

	res, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID: "req-1",
		Messages:  userMessage("Hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hi there" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestEngineCompleteDuplicateRequestsCoalesce(t *testing.T) {
	backend := uidriver.NewStubBackend(150*time.Millisecond, "ok")
	engine, counting := newTestEngine(t, backend)

	results := make([]CompletionResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Complete(context.Background(), CompletionRequest{
				RequestID: requestIDFor(i),
				Messages:  userMessage("Hello"),
			})
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
	if results[0].Text != results[1].Text {
		t.Fatalf("expected identical bodies, got %q and %q", results[0].Text, results[1].Text)
	}
	if got := atomic.LoadInt32(&counting.askCalls); got != 1 {
		t.Fatalf("Ask called %d times, want exactly 1", got)
	}
}

func requestIDFor(i int) string {
	if i == 0 {
		return "req-a"
	}
	return "req-b"
}

func TestEngineCompleteMismatchedConcurrentRequestRejected(t *testing.T) {
	backend := uidriver.NewStubBackend(150*time.Millisecond, "ok")
	engine, counting := newTestEngine(t, backend)

	var first, second CompletionResult
	var firstErr, secondErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = engine.Complete(context.Background(), CompletionRequest{
			RequestID: "req-a",
			Messages:  userMessage("hello one"),
		})
	}()
	time.Sleep(20 * time.Millisecond)
	second, secondErr = engine.Complete(context.Background(), CompletionRequest{
		RequestID: "req-b",
		Messages:  userMessage("hello two"),
	})
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("first request should succeed, got %v", firstErr)
	}
	_ = first
	be := bridgeerr.As(secondErr)
	if be == nil || be.Kind != bridgeerr.PreviousPending {
		t.Fatalf("second request: expected previous_response_pending, got %v", secondErr)
	}
	if got := atomic.LoadInt32(&counting.askCalls); got != 1 {
		t.Fatalf("Ask called %d times, want exactly 1", got)
	}
}

func TestEngineCompleteAnnounceSkipNeverTouchesUI(t *testing.T) {
	backend := uidriver.NewStubBackend(0, "should never be returned")
	engine, counting := newTestEngine(t, backend)

	res, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID: "req-announce",
		Messages:  userMessage("[internal_announce]"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AnnounceSkip {
		t.Fatal("expected AnnounceSkip=true")
	}
	if res.Text != "ANNOUNCE_SKIP" {
		t.Fatalf("text = %q", res.Text)
	}
	if got := atomic.LoadInt32(&counting.askCalls); got != 0 {
		t.Fatalf("Ask called %d times, want 0 for an announce-skip", got)
	}
}

func TestEngineCompleteSessionStickyPersistsBinding(t *testing.T) {
	backend := uidriver.NewStubBackend(5*time.Millisecond, "ok")
	engine, _ := newTestEngine(t, backend)
	engine.Config.Session.BindingMode = "sticky"

	store, err := session.NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	engine.Router = session.NewRouter(session.ModeSticky, "default", false, store)

	first, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID:      "req-1",
		Messages:       userMessage("hello"),
		SessionSlot:    "slot-a",
		ConversationID: "Project Alpha",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ConversationID != "Project Alpha" {
		t.Fatalf("conversation id = %q", first.ConversationID)
	}

	second, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID:   "req-2",
		Messages:    userMessage("hello again"),
		SessionSlot: "slot-a",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ConversationID != "Project Alpha" {
		t.Fatalf("expected the sticky binding to supply the conversation id, got %q", second.ConversationID)
	}
}

func TestEngineCompleteIdempotencyReplaysIdenticalRequest(t *testing.T) {
	backend := uidriver.NewStubBackend(5*time.Millisecond, "hi there")
	engine, counting := newTestEngine(t, backend)
	engine.Idempotency = idempotency.New(64, time.Minute)

	req := CompletionRequest{
		RequestID:      "req-1",
		Messages:       userMessage("Hello"),
		IdempotencyKey: "key-1",
	}

	first, err := engine.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.RequestID = "req-2"
	second, err := engine.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Text != first.Text {
		t.Fatalf("replayed text = %q, want %q", second.Text, first.Text)
	}
	if got := atomic.LoadInt32(&counting.askCalls); got != 1 {
		t.Fatalf("Ask called %d times, want exactly 1 (second call should replay from cache)", got)
	}
}

func TestEngineCompleteIdempotencyKeyWithDifferentContentIsFresh(t *testing.T) {
	backend := uidriver.NewStubBackend(5*time.Millisecond, "ok")
	engine, counting := newTestEngine(t, backend)
	engine.Idempotency = idempotency.New(64, time.Minute)

	first, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID:      "req-1",
		Messages:       userMessage("question one"),
		IdempotencyKey: "shared-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := engine.Complete(context.Background(), CompletionRequest{
		RequestID:      "req-2",
		Messages:       userMessage("question two"),
		IdempotencyKey: "shared-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = first
	_ = second
	if got := atomic.LoadInt32(&counting.askCalls); got != 2 {
		t.Fatalf("Ask called %d times, want 2 (different prompt content under the same idempotency key must not replay)", got)
	}
}
