// Package prompt renders the last user message of an incoming chat-completion
// request into the text actually pushed into the chat application, strips
// embedded control metadata, appends the marker line, and optionally
// expands a trailing file-context block.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/araddon/dateparse"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/marker"
)

// Message mirrors one OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

// Rendered is the final text pushed to the UI, per the data model.
type Rendered struct {
	Body       string
	Marker     string
	TotalChars int
	FileRefs   []string
}

// announcePatterns are fixed internal-announce short circuits: when the
// rendered prompt (before marker append) matches one, the handler returns
// "ANNOUNCE_SKIP" without touching the UI at all.
var announcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*\[?internal[_ -]?announce\]?\s*:?\s*$`),
	regexp.MustCompile(`(?i)^\s*system\s+announcement\s*:?\s*$`),
	regexp.MustCompile(`(?i)^\s*\[bridge[_ -]?keepalive\]\s*$`),
}

// subagentHeaderPattern matches the header line of bracketed or heading-delimited preambles that
// leak from multi-agent tool harnesses, e.g. "[SUBAGENT TASK]\n...\n" or
// "### Task\n...". Only whole leading blocks are stripped, never mid-text
// occurrences that look coincidentally similar.
var subagentHeaderPattern = regexp.MustCompile(`(?im)^\s*(?:\[(?:SUBAGENT|TASK|SYSTEM)[^\]]*\]|#{1,6}\s*(?:Task|Subagent|Instructions))\s*$`)

// timestampHeaderLine matches a leading line that is entirely (or almost
// entirely) a timestamp, e.g. "2025-01-02T15:04:05Z" or "Jan 2, 2025 3:04pm".
var timestampHeaderLine = regexp.MustCompile(`^\s*[\[(]?[0-9]{1,4}[-/][0-9]{1,2}[-/][0-9]{1,4}.{0,40}[\])]?\s*$`)

// Collapse whitespace runs for the announce-pattern comparison.
var whitespaceRun = regexp.MustCompile(`\s+`)

const announceSkipText = "ANNOUNCE_SKIP"

// LastUserMessage returns the content of the last user-role message, or ""
// if there is none. System and assistant messages are dropped entirely;
// the chat application under automation manages its own history for
// assistant turns.
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// stripSubagentPreamble removes leading lines that match a subagent/task
// header block, including the header line itself and any immediately
// following lines up to the next blank line.
func stripSubagentPreamble(body string) string {
	lines := strings.Split(body, "\n")
	start := 0
	for {
		j := start
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) || !subagentHeaderPattern.MatchString(lines[j]) {
			break
		}
		start = j + 1
		for start < len(lines) && strings.TrimSpace(lines[start]) != "" {
			start++
		}
	}
	return strings.Join(lines[start:], "\n")
}

// stripTimestampHeaders removes leading lines that parse as a bare
// timestamp, using dateparse for locale/format tolerance rather than a
// brittle hand-written format list.
func stripTimestampHeaders(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if !timestampHeaderLine.MatchString(trimmed) {
			break
		}
		if _, err := dateparse.ParseAny(strings.Trim(trimmed, "[]() ")); err != nil {
			break
		}
		i++
	}
	return strings.Join(lines[i:], "\n")
}

// stripLeakedMarkers removes any line that has the syntactic shape of a
// bridge marker, wherever it appears in client-supplied text.
func stripLeakedMarkers(body string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if marker.IsMarkerLine(strings.TrimSpace(l)) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// isAnnounceSkip reports whether body (pre-marker) matches a fixed internal
// announce pattern after whitespace collapse, case-insensitively.
func isAnnounceSkip(body string) bool {
	collapsed := strings.TrimSpace(whitespaceRun.ReplaceAllString(body, " "))
	for _, p := range announcePatterns {
		if p.MatchString(collapsed) {
			return true
		}
	}
	return false
}

// Options configures Render.
type Options struct {
	Secret          string
	MaxPromptChars  int
	MaxMessageChars int
	FileContext     *FileContextBlock // nil if no file context requested
}

// Render builds the final prompt for request rid from messages, appending
// the marker line after a blank separator. A (nil, false, nil) return
// signals the ANNOUNCE_SKIP short circuit (no UI call is made, and this is
// not a failure).
func Render(rid string, messages []Message, opts Options) (*Rendered, bool, error) {
	for _, m := range messages {
		if m.Role == "user" && opts.MaxMessageChars > 0 && len(m.Content) > opts.MaxMessageChars {
			return nil, false, bridgeerr.New(bridgeerr.PromptTooLarge, fmt.Sprintf("message exceeds max_message_chars (%d)", opts.MaxMessageChars))
		}
	}

	raw := LastUserMessage(messages)
	body := stripSubagentPreamble(raw)
	body = stripTimestampHeaders(body)
	body = stripLeakedMarkers(body)
	body = strings.TrimRight(body, "\n")

	if isAnnounceSkip(body) {
		return nil, false, nil
	}

	var fileRefs []string
	if opts.FileContext != nil {
		section, refs, err := opts.FileContext.Render()
		if err != nil {
			return nil, true, err
		}
		if section != "" {
			body = body + "\n\n" + section
			fileRefs = refs
		}
	}

	m := marker.Make(rid, opts.Secret)
	final := body + "\n\n" + m

	if opts.MaxPromptChars > 0 && len(final) > opts.MaxPromptChars {
		return nil, true, bridgeerr.New(bridgeerr.PromptTooLarge, fmt.Sprintf("rendered prompt exceeds max_prompt_chars (%d)", opts.MaxPromptChars))
	}

	return &Rendered{
		Body:       final,
		Marker:     m,
		TotalChars: len(final),
		FileRefs:   fileRefs,
	}, true, nil
}

// AnnounceSkipText is the synthetic response body for the control-prompt
// short circuit.
func AnnounceSkipText() string { return announceSkipText }
