package uidriver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/extractor"
	"github.com/chatgpt-bridge/bridge/internal/metrics"
	"github.com/chatgpt-bridge/bridge/internal/pollloop"
	"github.com/chatgpt-bridge/bridge/internal/uierror"
)

// PollConfig bundles the tunables forwarded into pollloop.Run for every
// ask(). Rebuilt per-config-load, not per-request.
type PollConfig struct {
	PollInterval             time.Duration
	MaxWait                  time.Duration
	StableChecks             int
	ExtractNoIndicatorStable time.Duration
	ScrapeCallTimeout        time.Duration
	UIErrorPatterns          []uierror.Pattern
	Labels                   extractor.Labels
	RequireCompletionIndicators bool
}

// GenericDriver implements Driver by composing a Backend with the shared
// poll loop and extractor. This is where "ask()" — a single black-box
// operation from the HTTP handler's perspective — is actually assembled
// from lower-level automation primitives plus in-process decision logic.
type GenericDriver struct {
	Backend Backend
	Poll    PollConfig
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// NewGenericDriver wires a Backend into a Driver.
func NewGenericDriver(backend Backend, poll PollConfig, logger *slog.Logger) *GenericDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenericDriver{Backend: backend, Poll: poll, Logger: logger}
}

var _ Driver = (*GenericDriver)(nil)

func (d *GenericDriver) Health(ctx context.Context) (Health, error) {
	return d.Backend.Health(ctx)
}

func (d *GenericDriver) GetConversations(ctx context.Context, requestID string) ([]string, error) {
	return d.Backend.GetConversations(ctx, requestID)
}

func (d *GenericDriver) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	if err := d.Backend.EnsureWindowAvailable(ctx); err != nil {
		return AskResult{}, err
	}

	contextReset := false
	if req.ResetEachTurn {
		performed, err := d.Backend.ResetChat(ctx, req.ResetStrict)
		if err != nil {
			be := bridgeerr.As(err)
			if req.ResetStrict {
				return AskResult{}, bridgeerr.New(bridgeerr.UIResetFailed, be.Message).WithContextReset(false)
			}
			d.Logger.Warn("[UIDRIVER] chat reset failed, continuing on active conversation", "request_id", req.RequestID, "error", be.Error())
		}
		contextReset = performed
	}

	openedConversation := ""
	if req.ConversationID != "" {
		opened, err := d.Backend.OpenConversation(ctx, req.ConversationID)
		if err != nil {
			return AskResult{}, bridgeerr.As(err).WithContextReset(contextReset)
		}
		if !opened {
			if req.StrictOpen {
				return AskResult{}, bridgeerr.New(bridgeerr.ConversationNotFound, "conversation not found: "+req.ConversationID).WithContextReset(contextReset)
			}
			d.Logger.Warn("[UIDRIVER] conversation not found, proceeding on active conversation",
				"request_id", req.RequestID, "conversation_id", req.ConversationID)
		} else {
			openedConversation = req.ConversationID
		}
	}

	release, err := d.Backend.AcquireClipboard(ctx)
	if err != nil {
		return AskResult{}, bridgeerr.As(err).WithContextReset(contextReset)
	}
	defer release()

	if err := d.Backend.Paste(ctx, req.Prompt); err != nil {
		return AskResult{}, bridgeerr.As(err).WithContextReset(contextReset)
	}
	if err := d.Backend.Submit(ctx); err != nil {
		return AskResult{}, bridgeerr.As(err).WithContextReset(contextReset)
	}

	labels := d.Poll.Labels
	extractFn := func(fullText string) pollloop.Signals {
		res, err := extractor.ExtractStrict(fullText, req.Marker, req.Prompt, labels)
		if err != nil {
			return pollloop.Signals{Extractable: false}
		}
		return pollloop.Signals{
			Result:                res,
			Extractable:           true,
			CursorPresent:         extractor.HasCursorGlyph(fullText),
			CompletionIndicator:   !d.Poll.RequireCompletionIndicators || containsAny(fullText, labels.Regenerate, labels.Continue),
			MarkerVisibleInScrape: true,
		}
	}

	result, err := pollloop.Run(
		ctx,
		pollloop.Config{
			PollInterval:             d.Poll.PollInterval,
			MaxWait:                  d.Poll.MaxWait,
			StableChecks:             d.Poll.StableChecks,
			ExtractNoIndicatorStable: d.Poll.ExtractNoIndicatorStable,
			ScrapeCallTimeout:        d.Poll.ScrapeCallTimeout,
			UIErrorPatterns:          d.Poll.UIErrorPatterns,
			StrictMarkerAnchor:       true,
			OnIteration:              d.Metrics.IncPollIteration,
			OnStableReached:          d.Metrics.IncPollStableReached,
		},
		d.Backend.Scrape,
		d.Backend.EnsureRunning,
		d.Backend.EnsureWindowAvailable,
		extractFn,
		func(iteration int, st pollloop.State) {
			d.Logger.Info("[UIDRIVER] poll progress",
				"request_id", req.RequestID,
				"iteration", iteration,
				"stable_count", st.StableCount,
			)
		},
	)
	if err != nil {
		return AskResult{}, bridgeerr.As(err).WithContextReset(contextReset)
	}

	return AskResult{
		Text:               result.Text,
		ContextReset:       contextReset,
		OpenedConversation: openedConversation,
		ExtractionMode:     ExtractionMode(result.Mode),
	}, nil
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
