// Package extractor converts a raw accessibility-tree dump plus the prompt
// that produced it into the assistant's reply text. It is pure: it never
// touches the UI, so the poll loop can call it on every iteration.
package extractor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/marker"
)

// Mode mirrors the extraction mode glossary entry.
type Mode string

const (
	ModeMarker        Mode = "marker"
	ModeSnapshotDelta Mode = "snapshot_delta"
)

// Result is the output of one extraction attempt.
type Result struct {
	Text         string
	Mode         Mode
	ContextReset bool
}

// Labels carries the operator-configurable UI label strings used to strip
// toolbar/completion-indicator noise.
type Labels struct {
	NewChat    string
	Regenerate string
	Continue   string
}

func defaultLabels(l Labels) Labels {
	if l.Regenerate == "" {
		l.Regenerate = "Regenerate"
	}
	if l.Continue == "" {
		l.Continue = "Continue generating"
	}
	return l
}

var (
	versionStringPattern = regexp.MustCompile(`(?i)\bChatGPT\s+\d+(\.\d+)*\b`)
	thinkingHeaderPattern = regexp.MustCompile(`(?im)^\s*(Thinking|Réflexion)\b.*$`)
	axRoleArtifactPattern = regexp.MustCompile(`(?i)\b(AXStaticText|AXGroup|AXButton|AXDescription)\b`)
	typingCursorGlyphs    = []string{"▏", "█", "●"} // bar/block/dot cursor glyphs seen in AX dumps
	zeroWidthGlyphs       = []string{string(rune(0x200B)), string(rune(0x200C)), string(rune(0x200D)), string(rune(0xFEFF))}
	objectReplacementChar = "￼"
)

// HasCursorGlyph reports whether the raw scrape text still contains a
// typing-cursor glyph, checked before any noise-stripping runs so callers
// can gate completion on the chat app still visibly typing.
func HasCursorGlyph(text string) bool {
	for _, glyph := range typingCursorGlyphs {
		if strings.Contains(text, glyph) {
			return true
		}
	}
	return false
}

// stripNoise removes known toolbar labels, completion indicators, version
// strings, AX role artifacts, and locale-aware "Thinking" section headers.
func stripNoise(text string, labels Labels) string {
	text = versionStringPattern.ReplaceAllString(text, "")
	text = thinkingHeaderPattern.ReplaceAllString(text, "")
	text = axRoleArtifactPattern.ReplaceAllString(text, "")
	for _, glyph := range typingCursorGlyphs {
		text = strings.ReplaceAll(text, glyph, "")
	}
	for _, label := range []string{labels.Regenerate, labels.Continue, labels.NewChat} {
		if label != "" {
			text = strings.ReplaceAll(text, label, "")
		}
	}
	return text
}

// stripPromptEcho removes leading lines that echo the normalized prompt,
// [FILE_CONTEXT] framing, BEGIN/END FILE delimiters, and path: lines,
// until a non-echo line is reached.
func stripPromptEcho(text, promptAnchor string) string {
	promptLines := normalizeLines(promptAnchor)
	promptSet := make(map[string]bool, len(promptLines))
	for _, l := range promptLines {
		if l != "" {
			promptSet[l] = true
		}
	}

	lines := strings.Split(text, "\n")
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == "":
			i++
		case trimmed == "[FILE_CONTEXT]" || trimmed == "[/FILE_CONTEXT]":
			i++
		case strings.HasPrefix(trimmed, "--- BEGIN FILE") || strings.HasPrefix(trimmed, "--- END FILE"):
			i++
		case strings.HasPrefix(trimmed, "path:"):
			i++
		case promptSet[normalizeLine(trimmed)]:
			i++
		default:
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

func normalizeLine(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = normalizeLine(l)
	}
	return out
}

// dedupeHalves counters accessibility-tree duplication: if the text splits
// into two equal halves (by rune count or by line count), keep one half.
func dedupeHalves(text string) string {
	runes := []rune(text)
	if n := len(runes); n > 0 && n%2 == 0 {
		half := n / 2
		if string(runes[:half]) == string(runes[half:]) {
			return string(runes[:half])
		}
	}
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 1 && n%2 == 0 {
		half := n / 2
		if strings.Join(lines[:half], "\n") == strings.Join(lines[half:], "\n") {
			return strings.Join(lines[:half], "\n")
		}
	}
	return text
}

func isNoiseOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	for _, g := range zeroWidthGlyphs {
		trimmed = strings.ReplaceAll(trimmed, g, "")
	}
	trimmed = strings.ReplaceAll(trimmed, objectReplacementChar, "")
	trimmed = strings.TrimFunc(trimmed, func(r rune) bool { return unicode.IsSpace(r) })
	return trimmed == ""
}

func responseNotReady(reason string) error {
	return bridgeerr.New(bridgeerr.UIError, "response not ready: "+reason)
}

// rejectResult applies the strict-path rejection rules: leaked marker,
// equals-prompt, long prompt-substring, or noise-only.
func rejectResult(text, promptAnchor string) error {
	if marker.ContainsMarker(text) {
		return responseNotReady("leaked marker")
	}
	normText := normalizeLine(text)
	normPrompt := normalizeLine(promptAnchor)
	if normText == normPrompt {
		return responseNotReady("equals prompt")
	}
	if len(normText) >= 120 && strings.Contains(normPrompt, normText) {
		return responseNotReady("substring of prompt")
	}
	if strings.Contains(text, "\n") && strings.Contains(normPrompt, normText) {
		return responseNotReady("multi-line substring of prompt")
	}
	if isNoiseOnly(text) {
		return responseNotReady("noise-only")
	}
	return nil
}

// ExtractStrict implements the marker path (§4.6): anchor ends with a
// bridge marker. fullText is the full scrape; markerLine is the exact
// marker string to search for.
func ExtractStrict(fullText, markerLine, promptAnchor string, labels Labels) (Result, error) {
	labels = defaultLabels(labels)
	idx := strings.LastIndex(fullText, markerLine)
	if idx < 0 {
		return Result{}, bridgeerr.New(bridgeerr.UIError, "marker_not_found")
	}
	after := fullText[idx+len(markerLine):]

	cleaned := stripNoise(after, labels)
	cleaned = stripPromptEcho(cleaned, promptAnchor)
	cleaned = dedupeHalves(strings.TrimSpace(cleaned))

	if err := rejectResult(cleaned, promptAnchor); err != nil {
		return Result{}, err
	}

	return Result{Text: cleaned, Mode: ModeMarker}, nil
}

// ExtractLegacy implements the snapshot-delta fallback path for anchors
// without a bridge marker. preSendSnapshot is the accessibility dump taken
// immediately before send; it may be empty if unavailable.
func ExtractLegacy(fullText, promptAnchor, preSendSnapshot string, labels Labels) (Result, error) {
	labels = defaultLabels(labels)

	if idx := strings.LastIndex(fullText, promptAnchor); idx >= 0 {
		after := fullText[idx+len(promptAnchor):]
		cleaned := dedupeHalves(strings.TrimSpace(stripNoise(after, labels)))
		if err := rejectResult(cleaned, promptAnchor); err == nil {
			return Result{Text: cleaned, Mode: ModeSnapshotDelta}, nil
		}
	}

	if idx := strings.Index(fullText, promptAnchor); idx >= 0 {
		after := fullText[idx+len(promptAnchor):]
		cleaned := dedupeHalves(strings.TrimSpace(stripNoise(after, labels)))
		if err := rejectResult(cleaned, promptAnchor); err == nil {
			return Result{Text: cleaned, Mode: ModeSnapshotDelta}, nil
		}
	}

	firstLine := firstNonEmptyLine(promptAnchor)
	if len(firstLine) >= 8 {
		lines := strings.Split(fullText, "\n")
		for i, l := range lines {
			if normalizeLine(l) == normalizeLine(firstLine) {
				cleaned := dedupeHalves(strings.TrimSpace(stripNoise(strings.Join(lines[i+1:], "\n"), labels)))
				if err := rejectResult(cleaned, promptAnchor); err == nil {
					return Result{Text: cleaned, Mode: ModeSnapshotDelta}, nil
				}
			}
		}
	}

	if preSendSnapshot != "" {
		suffix := suffixAfterOverlap(preSendSnapshot, fullText)
		cleaned := dedupeHalves(strings.TrimSpace(stripNoise(suffix, labels)))
		if err := rejectResult(cleaned, promptAnchor); err == nil {
			return Result{Text: cleaned, Mode: ModeSnapshotDelta}, nil
		}
	}

	return Result{}, responseNotReady("no snapshot-delta candidate accepted")
}

func firstNonEmptyLine(s string) string {
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			return strings.TrimSpace(l)
		}
	}
	return ""
}

// suffixAfterOverlap computes the suffix of current after the longest
// overlap with pre, trying a bounded trailing window of pre first (cheap),
// then falling back to a longest-common-prefix comparison.
func suffixAfterOverlap(pre, current string) string {
	const window = 1024
	tail := pre
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	if idx := strings.LastIndex(current, tail); idx >= 0 {
		return current[idx+len(tail):]
	}

	n := 0
	max := len(pre)
	if len(current) < max {
		max = len(current)
	}
	for n < max && pre[n] == current[n] {
		n++
	}
	return current[n:]
}
