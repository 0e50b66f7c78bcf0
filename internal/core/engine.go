// Package core wires admission, prompt rendering, the UI driver, session
// routing, audit logging, metrics, and the idempotency cache into one
// Engine shared by both the HTTP and stdio transports.
package core

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatgpt-bridge/bridge/internal/admission"
	"github.com/chatgpt-bridge/bridge/internal/audit"
	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/config"
	"github.com/chatgpt-bridge/bridge/internal/idempotency"
	"github.com/chatgpt-bridge/bridge/internal/metrics"
	"github.com/chatgpt-bridge/bridge/internal/progress"
	"github.com/chatgpt-bridge/bridge/internal/prompt"
	"github.com/chatgpt-bridge/bridge/internal/session"
	"github.com/chatgpt-bridge/bridge/internal/uidriver"
)

// CompletionRequest is the transport-neutral request shape both cmd/
// entrypoints build before calling Engine.Complete.
type CompletionRequest struct {
	RequestID      string
	Messages       []prompt.Message
	SessionSlot    string
	ConversationID string
	StrictOpen     bool
	IdempotencyKey string
	FileContext    *prompt.FileContextBlock
}

// CompletionResult is what both transports render into their respective
// wire formats.
type CompletionResult struct {
	RequestID      string
	Text           string
	ContextReset   bool
	SessionSlot    string
	ConversationID string
	ExtractionMode string
	QueueDepth     int
	AnnounceSkip   bool
}

// Engine is the shared orchestration core.
type Engine struct {
	Config       *config.Config
	Driver       uidriver.Driver
	Router       *session.Router
	SingleFlight *admission.SingleFlight
	Queue        *admission.Queue
	Limiter      *admission.Limiter
	Audit        *audit.Logger
	Metrics      *metrics.Registry
	Progress     *progress.Hub
	Idempotency  *idempotency.Cache
	MarkerSecret string
	Logger       *slog.Logger
}

// NewRequestID generates a fallback request id when the caller didn't
// supply one, via google/uuid rather than hand-rolled randomness.
func NewRequestID() string {
	return uuid.NewString()
}

// Complete runs the full pipeline: rate limit, render, route, admit,
// drive the UI, persist session state, audit, and emit progress.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	log := e.Logger.With("request_id", req.RequestID)

	if ok, retryAfterS := e.Limiter.Allow(); !ok {
		return CompletionResult{}, bridgeerr.New(bridgeerr.RateLimitedByChatGPT, "rate limit exceeded").WithRetryAfter(retryAfterS)
	}

	res, err := e.Router.Resolve(req.SessionSlot, req.ConversationID)
	if err != nil {
		return CompletionResult{}, err
	}

	renderOpts := prompt.Options{
		Secret:          e.MarkerSecret,
		MaxPromptChars:  e.Config.Prompt.MaxPromptChars,
		MaxMessageChars: e.Config.Prompt.MaxMessageChars,
		FileContext:     req.FileContext,
	}
	rendered, proceed, err := prompt.Render(req.RequestID, req.Messages, renderOpts)
	if err != nil {
		return CompletionResult{}, err
	}
	if !proceed {
		e.publish(req.RequestID, progress.StageDone, "announce_skip")
		return CompletionResult{
			RequestID:    req.RequestID,
			Text:         prompt.AnnounceSkipText(),
			SessionSlot:  res.Slot,
			AnnounceSkip: true,
		}, nil
	}

	fingerprintBody := strings.TrimSuffix(rendered.Body, "\n\n"+rendered.Marker)
	fp := admission.ComputeFingerprint(fingerprintBody, string(e.Router.Mode), res.Slot, res.ConversationID, e.Config.Session.StrictOpen || req.StrictOpen)

	if idemEntry, hit := e.lookupIdempotent(req, fp); hit {
		log.Info("idempotency cache hit", "idempotency_key", req.IdempotencyKey)
		return idemEntry, nil
	}

	e.publish(req.RequestID, progress.StageAdmitted, "")
	outcome, future := e.SingleFlight.TryAdmit(context.Background(), fp, func(taskCtx context.Context) (any, error) {
		return e.runQueuedAsk(taskCtx, req, res, rendered)
	})

	switch outcome {
	case admission.Admitted:
		e.Metrics.ObserveAdmission("admitted")
	case admission.Joined:
		e.Metrics.ObserveAdmission("joined")
		log.Info("joined in-flight request", "fingerprint", fp)
	case admission.Rejected:
		e.Metrics.ObserveAdmission("rejected")
		return CompletionResult{}, bridgeerr.New(bridgeerr.PreviousPending, "a request is already in flight")
	}

	val, waitErr, ok := future.Wait(ctx)
	if !ok {
		return CompletionResult{}, bridgeerr.New(bridgeerr.Timeout, "timed out waiting for the in-flight UI task")
	}
	if waitErr != nil {
		e.publish(req.RequestID, progress.StageError, waitErr.Error())
		return CompletionResult{}, waitErr
	}

	askResult := val.(uidriver.AskResult)
	e.publish(req.RequestID, progress.StageDone, "")

	if err := e.Router.Persist(res, askResult.OpenedConversation); err != nil {
		log.Warn("failed to persist session binding", "error", err)
	}

	queueDepth := e.Queue.Depth()
	e.Metrics.SetQueueDepth(queueDepth)

	result := CompletionResult{
		RequestID:      req.RequestID,
		Text:           askResult.Text,
		ContextReset:   askResult.ContextReset,
		SessionSlot:    res.Slot,
		ConversationID: firstNonEmpty(askResult.OpenedConversation, res.ConversationID),
		ExtractionMode: string(askResult.ExtractionMode),
		QueueDepth:     queueDepth,
	}
	e.storeIdempotent(req, fp, result)
	e.auditComplete(req, result)
	return result, nil
}

// runQueuedAsk hands the admitted ask() off to the bounded FIFO queue's
// add_if_idle variant, so completions share the same queue-depth
// accounting and per-job timeout as non-completion operations. SingleFlight
// has already guaranteed admission is exclusive, so EnqueueIfIdle's
// idle check only ever rejects here when a non-completion job (e.g.
// GetConversations) is occupying the queue concurrently.
func (e *Engine) runQueuedAsk(ctx context.Context, req CompletionRequest, res session.Resolution, rendered *prompt.Rendered) (any, error) {
	qFuture, err := e.Queue.EnqueueIfIdle(admission.Job{
		Run: func(jobCtx context.Context) (any, error) {
			return e.runAsk(jobCtx, req, res, rendered)
		},
	})
	if err != nil {
		if berr := bridgeerr.As(err); berr.Kind == bridgeerr.QueueFull {
			return nil, bridgeerr.New(bridgeerr.PreviousPending, "a request is already in flight")
		}
		return nil, err
	}
	val, waitErr, ok := qFuture.Wait(ctx)
	if !ok {
		return nil, bridgeerr.New(bridgeerr.Timeout, "timed out waiting for the queued UI task")
	}
	return val, waitErr
}

func (e *Engine) runAsk(ctx context.Context, req CompletionRequest, res session.Resolution, rendered *prompt.Rendered) (any, error) {
	e.publish(req.RequestID, progress.StageUIWorking, "")
	askReq := uidriver.AskRequest{
		Prompt:         rendered.Body,
		Marker:         rendered.Marker,
		RequestID:      req.RequestID,
		ConversationID: res.ConversationID,
		StrictOpen:     e.Config.Session.StrictOpen || req.StrictOpen,
		ResetEachTurn:  e.Config.Session.ResetChatEachRequest,
		ResetStrict:    e.Config.Session.ResetStrict,
	}
	askResult, err := e.Driver.Ask(ctx, askReq)
	if err != nil {
		berr := bridgeerr.As(err)
		e.Metrics.ObserveUIError(string(berr.Kind))
		return nil, err
	}
	return askResult, nil
}

// GetConversations runs get_conversations through the bounded FIFO queue,
// per the spec's non-completion-operation path.
func (e *Engine) GetConversations(ctx context.Context, requestID string) ([]string, error) {
	future, err := e.Queue.Enqueue(admission.Job{
		Run: func(jobCtx context.Context) (any, error) {
			return e.Driver.GetConversations(jobCtx, requestID)
		},
	})
	e.Metrics.SetQueueDepth(e.Queue.Depth())
	if err != nil {
		return nil, err
	}
	val, waitErr, ok := future.Wait(ctx)
	if !ok {
		return nil, bridgeerr.New(bridgeerr.Timeout, "timed out waiting for conversation listing")
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return val.([]string), nil
}

// Health proxies the driver's health check, unauthenticated per §4.7.
func (e *Engine) Health(ctx context.Context) (uidriver.Health, error) {
	return e.Driver.Health(ctx)
}

func (e *Engine) publish(requestID string, stage progress.Stage, detail string) {
	if e.Progress == nil || !e.Config.Progress.Enabled {
		return
	}
	e.Progress.Publish(progress.Event{RequestID: requestID, Stage: stage, Detail: detail})
}

func (e *Engine) auditComplete(req CompletionRequest, result CompletionResult) {
	if e.Audit == nil {
		return
	}
	_ = e.Audit.Write(audit.Event{
		EventType: "completion",
		RequestID: req.RequestID,
		Fields: map[string]any{
			"session_slot":    result.SessionSlot,
			"conversation_id": result.ConversationID,
			"context_reset":   result.ContextReset,
			"extraction_mode": result.ExtractionMode,
			"text_len":        len(result.Text),
		},
	})
}

// lookupIdempotent checks the replay cache using the same admission
// fingerprint computed for try_admit, so a mismatched fingerprint under the
// same Idempotency-Key is treated as a fresh request rather than a replay.
func (e *Engine) lookupIdempotent(req CompletionRequest, fp admission.Fingerprint) (CompletionResult, bool) {
	if e.Idempotency == nil || req.IdempotencyKey == "" {
		return CompletionResult{}, false
	}
	entry, ok := e.Idempotency.Get(idempotency.Key(req.IdempotencyKey, string(fp)))
	if !ok {
		return CompletionResult{}, false
	}
	var result CompletionResult
	if err := decodeIdempotentEntry(entry, &result); err != nil {
		return CompletionResult{}, false
	}
	return result, true
}

func (e *Engine) storeIdempotent(req CompletionRequest, fp admission.Fingerprint, result CompletionResult) {
	if e.Idempotency == nil || req.IdempotencyKey == "" {
		return
	}
	entry, err := encodeIdempotentEntry(result)
	if err != nil {
		return
	}
	e.Idempotency.Put(idempotency.Key(req.IdempotencyKey, string(fp)), entry)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// idleDeadline returns the configured job timeout as a duration; no margin
// is subtracted from it, and no code path in this package calls it.
func (e *Engine) idleDeadline() time.Duration {
	return time.Duration(e.Config.JobTimeoutMS) * time.Millisecond
}
