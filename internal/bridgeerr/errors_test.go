package bridgeerr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		AppNotRunning, AccessibilityDenied, UIElementNotFound, UIResetFailed, UIError,
		UsageCap, RateLimitedByChatGPT, Captcha, AuthRequired, NetworkError,
		ConversationNotFound, FileContextInvalid, FileContextUnsup, FileContextDenied,
		FileContextNotFound, PromptTooLarge, QueueFull, PreviousPending, Timeout,
		InvalidRequest, Unknown,
	}
	for _, k := range kinds {
		e := New(k, "boom")
		if e.Kind != k {
			t.Errorf("New(%q) coerced kind to %q unexpectedly", k, e.Kind)
		}
		if status := e.HTTPStatus(); status < 400 || status >= 600 {
			t.Errorf("kind %q mapped to non-error status %d", k, status)
		}
	}
}

func TestNewCoercesUnknownKind(t *testing.T) {
	e := New(Kind("not_a_real_kind"), "boom")
	if e.Kind != Unknown {
		t.Fatalf("an unrecognized kind should coerce to Unknown, got %q", e.Kind)
	}
	if e.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("Unknown should map to 500, got %d", e.HTTPStatus())
	}
}

func TestWithRetryAfterAndDetailsChain(t *testing.T) {
	e := New(QueueFull, "full").WithRetryAfter(10).WithDetails("depth", 20)
	if e.RetryAfterS != 10 {
		t.Fatalf("RetryAfterS = %d, want 10", e.RetryAfterS)
	}
	if e.Details["depth"] != 20 {
		t.Fatalf("Details[depth] = %v, want 20", e.Details["depth"])
	}
}

func TestWithContextReset(t *testing.T) {
	e := New(UIError, "oops").WithContextReset(true)
	if e.ContextReset == nil || *e.ContextReset != 1 {
		t.Fatalf("WithContextReset(true) should record 1, got %v", e.ContextReset)
	}
}

func TestAsPassesThroughBridgeError(t *testing.T) {
	original := New(Timeout, "too slow")
	if got := As(original); got != original {
		t.Fatal("As should return the same *Error instance when err is already one")
	}
}

func TestAsWrapsPlainError(t *testing.T) {
	got := As(errors.New("plain failure"))
	if got.Kind != Unknown {
		t.Fatalf("a plain error should wrap as Unknown, got %q", got.Kind)
	}
	if got.Message != "plain failure" {
		t.Fatalf("wrapped message = %q, want %q", got.Message, "plain failure")
	}
}

func TestAsNil(t *testing.T) {
	if As(nil) != nil {
		t.Fatal("As(nil) should return nil")
	}
}
