// Package pollloop implements the polling response-extraction state
// machine: repeatedly scrape, detect known UI error strings, run the
// extractor, and decide done / wait / recover / fail.
package pollloop

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/extractor"
	"github.com/chatgpt-bridge/bridge/internal/uierror"
)

// ErrScrapeTimeout signals that one scrape call's own inner timeout fired,
// distinct from the overall maxWaitSec deadline. Scraper implementations
// should wrap this with errors.Join/fmt.Errorf("%w", ...) rather than
// returning a generic deadline-exceeded error, so the loop can apply the
// scrape-timeout recovery branch instead of failing outright.
var ErrScrapeTimeout = errors.New("pollloop: scrape call timed out")

// Scraper performs one accessibility-tree read with the given inner
// timeout.
type Scraper func(ctx context.Context, timeout time.Duration) (text string, err error)

// Recover probes process existence / window availability. Implementations
// correspond to ensure_running and ensure_window_available (§4.9).
type Recover func(ctx context.Context) error

// Signals is what the caller-supplied Extract function reports for one
// scrape's text, folding in the non-extractor done-predicate inputs
// (typing cursor glyph presence, completion-label presence) that the
// extractor itself doesn't surface.
type Signals struct {
	Result               extractor.Result
	Extractable          bool
	CursorPresent        bool
	CompletionIndicator  bool
	MarkerVisibleInScrape bool
}

// Extract runs the extractor against one scrape's full text.
type Extract func(fullText string) Signals

// Progress is invoked at most once per cfg.ProgressInterval with stability
// metrics; never once per iteration (that is trace-level only).
type Progress func(iteration int, st State)

// Config bundles the tunables named in §4.4 and §6.
type Config struct {
	PollInterval             time.Duration
	MaxWait                  time.Duration
	StableChecks             int
	ExtractNoIndicatorStable time.Duration
	ScrapeCallTimeout        time.Duration
	RecoveryGrace            time.Duration // default 120s
	ScrapeTimeoutGrace       time.Duration // max(120s, maxWaitSec)
	ScrapeTimeoutStep        time.Duration // 5s
	ScrapeTimeoutCap         time.Duration // 60s
	UIErrorPatterns          []uierror.Pattern
	ProgressInterval         time.Duration // ~30s
	StrictMarkerAnchor       bool          // anchor contains a bridge marker

	// OnIteration and OnStableReached are observability hooks only, fired
	// once per scrape attempt and once on a successful done predicate,
	// respectively. Neither ever affects control flow.
	OnIteration     func()
	OnStableReached func()
}

func normalizeConfig(cfg Config) Config {
	if cfg.RecoveryGrace <= 0 {
		cfg.RecoveryGrace = 120 * time.Second
	}
	if cfg.ScrapeTimeoutGrace <= 0 {
		cfg.ScrapeTimeoutGrace = cfg.RecoveryGrace
		if cfg.MaxWait > cfg.ScrapeTimeoutGrace {
			cfg.ScrapeTimeoutGrace = cfg.MaxWait
		}
	}
	if cfg.ScrapeTimeoutStep <= 0 {
		cfg.ScrapeTimeoutStep = 5 * time.Second
	}
	if cfg.ScrapeTimeoutCap <= 0 {
		cfg.ScrapeTimeoutCap = 60 * time.Second
	}
	if cfg.StableChecks <= 0 {
		cfg.StableChecks = 3
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 30 * time.Second
	}
	return cfg
}

// Run drives the loop to completion, failure, or deadline. ensureRunning
// and ensureWindow implement the recovery actions taken when a scrape
// reports the app or window as unavailable.
func Run(ctx context.Context, cfg Config, scrape Scraper, ensureRunning, ensureWindow Recover, extract Extract, progress Progress) (extractor.Result, error) {
	cfg = normalizeConfig(cfg)
	st := &State{ScrapeTimeoutCurrentMS: int(cfg.ScrapeCallTimeout.Milliseconds())}
	deadline := time.Now().Add(cfg.MaxWait)
	lastProgress := time.Now()
	iteration := 0

	for {
		iteration++
		if cfg.OnIteration != nil {
			cfg.OnIteration()
		}
		if !st.UIUnavailableSince.IsZero() && time.Since(st.UIUnavailableSince) > cfg.RecoveryGrace {
			return extractor.Result{}, bridgeerr.New(bridgeerr.UIElementNotFound, "recovery grace exhausted").
				WithDetails("grace_seconds", int(cfg.RecoveryGrace.Seconds())).
				WithDetails("iteration", iteration)
		}
		if !st.ScrapeTimeoutSince.IsZero() && time.Since(st.ScrapeTimeoutSince) > cfg.ScrapeTimeoutGrace {
			return extractor.Result{}, bridgeerr.New(bridgeerr.UIElementNotFound, "scrape-timeout grace exhausted").
				WithDetails("grace_seconds", int(cfg.ScrapeTimeoutGrace.Seconds())).
				WithDetails("iteration", iteration)
		}
		if time.Now().After(deadline) {
			return extractor.Result{}, bridgeerr.New(bridgeerr.Timeout, "poll loop deadline exceeded")
		}

		select {
		case <-ctx.Done():
			return extractor.Result{}, bridgeerr.New(bridgeerr.Timeout, "context cancelled")
		default:
		}

		scrapeTimeout := time.Duration(st.ScrapeTimeoutCurrentMS) * time.Millisecond
		text, err := scrape(ctx, scrapeTimeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrScrapeTimeout):
				if st.ScrapeTimeoutSince.IsZero() {
					st.ScrapeTimeoutSince = time.Now()
				}
				st.ScrapeTimeoutCurrentMS += int(cfg.ScrapeTimeoutStep.Milliseconds())
				if cap := int(cfg.ScrapeTimeoutCap.Milliseconds()); st.ScrapeTimeoutCurrentMS > cap {
					st.ScrapeTimeoutCurrentMS = cap
				}
				st.resetStability()
				sleepOrDone(ctx, cfg.PollInterval)
				continue

			case isUnavailable(err):
				if st.UIUnavailableSince.IsZero() {
					st.UIUnavailableSince = time.Now()
				}
				st.resetStability()
				if ensureRunning != nil {
					_ = ensureRunning(ctx)
				}
				if ensureWindow != nil {
					_ = ensureWindow(ctx)
				}
				sleepOrDone(ctx, cfg.PollInterval)
				continue

			default:
				return extractor.Result{}, err
			}
		}

		// Recovered: clear outage/backoff trackers.
		if !st.UIUnavailableSince.IsZero() {
			st.UIUnavailableSince = time.Time{}
		}
		if !st.ScrapeTimeoutSince.IsZero() {
			st.resetTimeoutBackoff(int(cfg.ScrapeCallTimeout.Milliseconds()))
		}

		if be := uierror.Detect(text, cfg.UIErrorPatterns); be != nil {
			return extractor.Result{}, be
		}

		sig := extract(text)
		st.PreviousFull = text

		if !sig.Extractable {
			st.resetStability()
			maybeProgress(progress, iteration, st, &lastProgress, cfg.ProgressInterval)
			sleepOrDone(ctx, cfg.PollInterval)
			continue
		}

		normalized := normalizeText(sig.Result.Text)
		stableNow := normalized != "" && normalized == st.PreviousExtractedNormalized
		if stableNow {
			st.StableCount++
		} else {
			st.StableCount = 0
			st.StableSince = time.Now()
		}
		st.PreviousExtractedNormalized = normalized

		completionGate := sig.CompletionIndicator ||
			(!st.StableSince.IsZero() && time.Since(st.StableSince) >= cfg.ExtractNoIndicatorStable)

		markerGate := true
		if cfg.StrictMarkerAnchor {
			markerGate = sig.MarkerVisibleInScrape && sig.Result.Mode == extractor.ModeMarker
		}

		done := stableNow &&
			!sig.CursorPresent &&
			completionGate &&
			markerGate &&
			st.StableCount >= cfg.StableChecks

		if done {
			if cfg.OnStableReached != nil {
				cfg.OnStableReached()
			}
			return sig.Result, nil
		}

		maybeProgress(progress, iteration, st, &lastProgress, cfg.ProgressInterval)
		sleepOrDone(ctx, cfg.PollInterval)
	}
}

func isUnavailable(err error) bool {
	be := bridgeerr.As(err)
	return be.Kind == bridgeerr.UIElementNotFound || be.Kind == bridgeerr.AppNotRunning
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func maybeProgress(progress Progress, iteration int, st *State, last *time.Time, interval time.Duration) {
	if progress == nil {
		return
	}
	if time.Since(*last) >= interval {
		progress(iteration, *st)
		*last = time.Now()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
