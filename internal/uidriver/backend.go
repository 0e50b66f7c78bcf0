package uidriver

import (
	"context"
	"time"
)

// Backend is the low-level OS-automation surface: the true external
// collaborator. A Driver is built by composing a Backend with the core's
// own poll loop and extractor, so the decision logic (stability gating,
// noise stripping, error classification) stays in this process even when
// Backend itself is remoted (see rpcdriver).
type Backend interface {
	Health(ctx context.Context) (Health, error)

	// EnsureRunning probes process existence; if absent, activates it and
	// rechecks once.
	EnsureRunning(ctx context.Context) error

	// EnsureWindowAvailable implements §4.9: front window check, reopen,
	// new-window shortcut, in that order.
	EnsureWindowAvailable(ctx context.Context) error

	// ResetChat performs a "new chat" reset when requested. strict
	// controls whether a refusal is fatal (ui_reset_failed) or ignorable.
	ResetChat(ctx context.Context, strict bool) (performed bool, err error)

	// OpenConversation opens a named conversation from the sidebar.
	// opened=false with a nil error means "not found, and the caller
	// should decide strict-open handling".
	OpenConversation(ctx context.Context, title string) (opened bool, err error)

	// AcquireClipboard acquires the process-wide clipboard mutex and
	// returns a release func that restores prior contents. Callers must
	// always invoke release, typically via defer.
	AcquireClipboard(ctx context.Context) (release func(), err error)

	Paste(ctx context.Context, text string) error
	Submit(ctx context.Context) error

	// Scrape reads the accessibility tree as one text blob within
	// timeout. Implementations should return pollloop.ErrScrapeTimeout
	// (wrapped) when the inner call itself times out.
	Scrape(ctx context.Context, timeout time.Duration) (string, error)

	GetConversations(ctx context.Context, requestID string) ([]string, error)
}
