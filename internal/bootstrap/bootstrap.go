// Package bootstrap builds the shared internal/core.Engine from
// configuration, so both cmd/bridge-http and cmd/bridge-stdio wire
// identical dependencies instead of duplicating the construction logic.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatgpt-bridge/bridge/internal/admission"
	"github.com/chatgpt-bridge/bridge/internal/audit"
	"github.com/chatgpt-bridge/bridge/internal/config"
	"github.com/chatgpt-bridge/bridge/internal/core"
	"github.com/chatgpt-bridge/bridge/internal/extractor"
	"github.com/chatgpt-bridge/bridge/internal/idempotency"
	"github.com/chatgpt-bridge/bridge/internal/metrics"
	"github.com/chatgpt-bridge/bridge/internal/progress"
	"github.com/chatgpt-bridge/bridge/internal/session"
	"github.com/chatgpt-bridge/bridge/internal/uidriver"
	"github.com/chatgpt-bridge/bridge/internal/uidriver/rpcdriver"
	"github.com/chatgpt-bridge/bridge/internal/uierror"
)

// Result bundles everything a transport's main() needs after a
// successful Build.
type Result struct {
	Config   *config.Config
	Engine   *core.Engine
	Metrics  *metrics.Registry
	Progress *progress.Hub
	Cleanup  func()
}

// Build loads configuration and wires every Engine dependency, following
// the same sequence regardless of which transport calls it.
func Build(logger *slog.Logger) (*Result, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	markerSecret, ephemeral := cfg.MarkerSecretEffective(randomSecret)
	if ephemeral {
		logger.Warn("MARKER_SECRET not set, using ephemeral random secret for this process lifetime")
	}

	sessionStore, err := session.NewStore(cfg.Session.BindingsPath)
	if err != nil {
		return nil, err
	}
	router := session.NewRouter(session.Mode(cfg.Session.BindingMode), cfg.Session.DefaultSlot, cfg.Session.StrictOpen, sessionStore)

	backend, closeBackend := dialBackend(cfg, logger)

	errorPatterns := uierror.DefaultPatterns
	if parsed, perr := cfg.ParseUIErrorPatterns(); perr != nil {
		logger.Warn("failed to parse UI_ERROR_PATTERNS_JSON, using defaults", "error", perr)
	} else if len(parsed) > 0 {
		errorPatterns = decodePatterns(parsed)
	}

	driver := uidriver.NewGenericDriver(backend, uidriver.PollConfig{
		PollInterval:                time.Duration(cfg.Poll.PollIntervalSec * float64(time.Second)),
		MaxWait:                     time.Duration(cfg.Poll.MaxWaitSec) * time.Second,
		StableChecks:                cfg.Poll.StableChecks,
		ExtractNoIndicatorStable:    time.Duration(cfg.Poll.ExtractNoIndicatorStableMS) * time.Millisecond,
		ScrapeCallTimeout:           time.Duration(cfg.Poll.ScrapeCallTimeoutMS) * time.Millisecond,
		UIErrorPatterns:             errorPatterns,
		Labels:                      extractor.Labels{NewChat: cfg.UILabels.NewChat, Regenerate: cfg.UILabels.Regenerate, Continue: cfg.UILabels.Continue},
		RequireCompletionIndicators: cfg.UILabels.RequireCompletionIndicators,
	}, logger)

	auditLogger, err := audit.New(audit.Config{
		Path:     cfg.Audit.Path,
		MaxBytes: cfg.Audit.MaxBytes,
		MaxAge:   time.Duration(cfg.Audit.MaxAgeDays) * 24 * time.Hour,
		Mode:     audit.SanitizeMode(cfg.Audit.SanitizeMode),
	})
	if err != nil {
		closeBackend()
		return nil, err
	}

	stopPurge := make(chan struct{})
	audit.StartPurgeWorker(auditLogger, cfg.Audit.PurgeInterval, stopPurge)

	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.New()
	}
	driver.Metrics = metricsRegistry

	var progressHub *progress.Hub
	if cfg.Progress.Enabled {
		progressHub = progress.NewHub()
	}

	idempotencyCache := idempotency.New(cfg.Idempotency.CacheSize, time.Duration(cfg.Idempotency.TTLSec)*time.Second)

	singleFlight := admission.NewSingleFlight()
	singleFlight.OnSettle = func(fp admission.Fingerprint, hadTimedOutCaller bool, err error) {
		if !hadTimedOutCaller {
			return
		}
		if err != nil {
			logger.Warn("in-flight UI task settled after its caller timed out", "fingerprint", fp, "error", err)
		} else {
			logger.Info("in-flight UI task settled after its caller timed out", "fingerprint", fp)
		}
	}

	engine := &core.Engine{
		Config:       cfg,
		Driver:       driver,
		Router:       router,
		SingleFlight: singleFlight,
		Queue:        admission.NewQueue(cfg.MaxQueueSize, time.Duration(cfg.JobTimeoutMS)*time.Millisecond, 10),
		Limiter:      admission.NewLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst),
		Audit:        auditLogger,
		Metrics:      metricsRegistry,
		Progress:     progressHub,
		Idempotency:  idempotencyCache,
		MarkerSecret: markerSecret,
		Logger:       logger,
	}

	cleanup := func() {
		close(stopPurge)
		closeBackend()
	}

	return &Result{Config: cfg, Engine: engine, Metrics: metricsRegistry, Progress: progressHub, Cleanup: cleanup}, nil
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "fallback-insecure-secret"
	}
	return hex.EncodeToString(buf)
}

// dialBackend connects to the external automation helper at
// UI_DRIVER_ADDR, or falls back to an in-process stub when the dial
// fails, so the bridge remains runnable without the automation helper
// present (local development, CI).
func dialBackend(cfg *config.Config, logger *slog.Logger) (uidriver.Backend, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := rpcdriver.Dial(ctx, rpcdriver.ClientConfig{Addr: cfg.UIDriverAddr})
	if err != nil {
		logger.Warn("failed to dial UI automation helper, falling back to in-process stub", "addr", cfg.UIDriverAddr, "error", err)
		stub := uidriver.NewStubBackend(200*time.Millisecond, "This is a stubbed reply.")
		return stub, func() {}
	}
	return client, func() { _ = client.Close() }
}

func decodePatterns(raw []map[string]any) []uierror.Pattern {
	out := make([]uierror.Pattern, 0, len(raw))
	for _, entry := range raw {
		code, _ := entry["code"].(string)
		var includes []string
		if list, ok := entry["includes"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					includes = append(includes, s)
				}
			}
		}
		if code != "" {
			out = append(out, uierror.Pattern{Code: code, Includes: includes})
		}
	}
	return out
}
