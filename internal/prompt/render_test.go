package prompt

import (
	"strings"
	"testing"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/marker"
)

func TestLastUserMessagePicksMostRecentUserTurn(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "you are a bridge"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if got := LastUserMessage(msgs); got != "second" {
		t.Fatalf("LastUserMessage = %q, want %q", got, "second")
	}
}

func TestLastUserMessageNoUserTurn(t *testing.T) {
	msgs := []Message{{Role: "system", Content: "x"}}
	if got := LastUserMessage(msgs); got != "" {
		t.Fatalf("LastUserMessage with no user turn = %q, want empty", got)
	}
}

func TestRenderAppendsMarker(t *testing.T) {
	rendered, proceed, err := Render("req-1", []Message{{Role: "user", Content: "hello there"}}, Options{Secret: "s3cr3t"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !proceed {
		t.Fatal("Render should proceed for an ordinary message")
	}
	want := marker.Make("req-1", "s3cr3t")
	if rendered.Marker != want {
		t.Fatalf("Marker = %q, want %q", rendered.Marker, want)
	}
	if !strings.HasSuffix(rendered.Body, want) {
		t.Fatalf("Body should end with the marker line, got %q", rendered.Body)
	}
	if !strings.HasPrefix(rendered.Body, "hello there") {
		t.Fatalf("Body should start with the user's message, got %q", rendered.Body)
	}
}

func TestRenderAnnounceSkip(t *testing.T) {
	rendered, proceed, err := Render("req-1", []Message{{Role: "user", Content: "[internal_announce]"}}, Options{Secret: "s"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if proceed {
		t.Fatal("an announce-pattern message should short-circuit with proceed=false")
	}
	if rendered != nil {
		t.Fatal("announce-skip should return a nil Rendered")
	}
}

func TestRenderStripsLeakedMarkerLines(t *testing.T) {
	leaked := marker.Make("someone-elses-request", "other-secret")
	rendered, _, err := Render("req-1", []Message{{Role: "user", Content: "hello\n" + leaked + "\nworld"}}, Options{Secret: "s"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.Body, leaked) {
		t.Fatalf("a leaked marker-shaped line from client content should be stripped, got %q", rendered.Body)
	}
}

func TestRenderRejectsOversizedMessage(t *testing.T) {
	_, _, err := Render("req-1", []Message{{Role: "user", Content: strings.Repeat("x", 100)}}, Options{Secret: "s", MaxMessageChars: 10})
	if err == nil {
		t.Fatal("Render should reject a message exceeding MaxMessageChars")
	}
	if bridgeerr.As(err).Kind != bridgeerr.PromptTooLarge {
		t.Fatalf("expected PromptTooLarge, got %v", bridgeerr.As(err).Kind)
	}
}

func TestRenderRejectsOversizedFinalPrompt(t *testing.T) {
	_, _, err := Render("req-1", []Message{{Role: "user", Content: strings.Repeat("x", 50)}}, Options{Secret: "s", MaxPromptChars: 10})
	if err == nil {
		t.Fatal("Render should reject a final rendered prompt exceeding MaxPromptChars")
	}
	if bridgeerr.As(err).Kind != bridgeerr.PromptTooLarge {
		t.Fatalf("expected PromptTooLarge, got %v", bridgeerr.As(err).Kind)
	}
}

func TestRenderStripsSubagentPreamble(t *testing.T) {
	body := "[SUBAGENT TASK]\nsome internal instructions\n\nactual user question"
	rendered, _, err := Render("req-1", []Message{{Role: "user", Content: body}}, Options{Secret: "s"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.Body, "SUBAGENT TASK") {
		t.Fatalf("leading subagent header block should be stripped, got %q", rendered.Body)
	}
	if !strings.Contains(rendered.Body, "actual user question") {
		t.Fatalf("text after the stripped preamble should survive, got %q", rendered.Body)
	}
}
