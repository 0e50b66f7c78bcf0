// Package uidriver defines the narrow contract the request-lifecycle
// engine uses to talk to the OS-accessibility-driven chat application. The
// automation itself (keystroke, clipboard, accessibility-tree traversal)
// is an external collaborator; this package only specifies the interface
// and a stub implementation used for local development and tests.
package uidriver

import "context"

// Accessibility mirrors the health probe's permission tri-state.
type Accessibility string

const (
	AccessibilityGranted Accessibility = "granted"
	AccessibilityDenied  Accessibility = "denied"
	AccessibilityUnknown Accessibility = "unknown"
)

// Health is the result of a health probe.
type Health struct {
	OK            bool
	Accessibility Accessibility
	AppRunning    *bool
	Code          string
	Message       string
}

// ExtractionMode mirrors the extractor's success mode.
type ExtractionMode string

const (
	ModeMarker        ExtractionMode = "marker"
	ModeSnapshotDelta ExtractionMode = "snapshot_delta"
)

// AskRequest carries everything the driver needs to run one transaction.
type AskRequest struct {
	Prompt          string
	Marker          string
	RequestID       string
	ConversationID  string // "" means unspecified
	StrictOpen      bool
	ResetEachTurn   bool
	ResetStrict     bool
}

// AskResult is the driver's successful outcome for one ask().
type AskResult struct {
	Text               string
	ContextReset       bool
	OpenedConversation string // "" if none was opened this turn
	ExtractionMode     ExtractionMode
}

// Driver is the only interface the core engine depends on. Implementations
// raise *bridgeerr.Error (via context.Context cancellation or a returned
// error wrapping one) on failure; callers should pass the error through
// bridgeerr.As before inspecting its Kind.
type Driver interface {
	// Health answers a health probe without touching the UI state machine.
	Health(ctx context.Context) (Health, error)

	// Ask drives one full prompt -> scrape -> extract transaction. The
	// driver owns preflight, window recovery, clipboard handling, and the
	// scrape/extract/done-predicate loop (GenericDriver.Ask runs it through
	// pollloop.Run).
	Ask(ctx context.Context, req AskRequest) (AskResult, error)

	// GetConversations returns the ordered, de-duplicated sidebar titles.
	GetConversations(ctx context.Context, requestID string) ([]string, error)
}
