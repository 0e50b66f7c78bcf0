// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults, following the same getEnv*/nested-struct/Validate() shape as
// the rest of this codebase's configuration loading.
//
// For a complete list of all environment variables, see SPEC_FULL.md §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TransportMode selects which cmd/ entrypoint's wiring applies.
type TransportMode string

const (
	TransportHTTP  TransportMode = "http"
	TransportStdio TransportMode = "stdio"
)

// PollConfig holds the poll loop's timing and stability parameters.
type PollConfig struct {
	MaxWaitSec                 int
	PollIntervalSec            float64
	StableChecks               int
	ExtractNoIndicatorStableMS int
	ScrapeCallTimeoutMS        int
}

// PromptConfig holds prompt-size caps.
type PromptConfig struct {
	MaxPromptChars  int
	MaxMessageChars int
}

// FileContextConfig holds file-context gating and caps.
type FileContextConfig struct {
	Enabled       bool
	AllowedRoots  []string
	MaxFileChars  int
	MaxTotalChars int
}

// RateLimitConfig holds the per-process token-bucket settings.
type RateLimitConfig struct {
	RPM   int
	Burst int
}

// UILabelsConfig holds the UI labels and completion-indicator options.
type UILabelsConfig struct {
	NewChat                    string
	Regenerate                 string
	Continue                   string
	RequireCompletionIndicators bool
	ErrorPatternsJSON          string
}

// SessionConfig holds session-binding behavior.
type SessionConfig struct {
	ResetChatEachRequest bool
	ResetStrict          bool
	BindingMode          string // off|sticky|explicit
	DefaultSlot          string
	BindingsPath         string
	StrictOpen           bool
}

// AuditConfig holds the audit log's rotation and sanitization settings.
type AuditConfig struct {
	Path          string
	MaxBytes      int64
	MaxAgeDays    int
	SanitizeMode  string
	PurgeInterval time.Duration
}

// MetricsConfig controls /metrics exposure.
type MetricsConfig struct {
	Enabled bool
}

// ProgressConfig controls the websocket progress stream.
type ProgressConfig struct {
	Enabled bool
}

// IdempotencyConfig holds the replay-cache sizing.
type IdempotencyConfig struct {
	TTLSec    int
	CacheSize int
}

// Config holds all application configuration.
type Config struct {
	Mode TransportMode

	HTTPHost string
	HTTPPort string

	AllowedOrigins []string

	BridgeToken  string
	MarkerSecret string

	MaxQueueSize  int
	JobTimeoutMS  int

	Poll         PollConfig
	Prompt       PromptConfig
	FileContext  FileContextConfig
	RateLimit    RateLimitConfig
	UILabels     UILabelsConfig
	Session      SessionConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Progress     ProgressConfig
	Idempotency  IdempotencyConfig

	UIDriverAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	maxWaitSec := getEnvInt("MAX_WAIT_SEC", 120)
	jobTimeoutMS := getEnvInt("JOB_TIMEOUT_MS", 150_000)
	minJobTimeoutMS := (maxWaitSec + 15) * 1000
	if jobTimeoutMS < minJobTimeoutMS {
		jobTimeoutMS = minJobTimeoutMS
	}

	cfg := &Config{
		Mode:     TransportMode(getEnv("BRIDGE_MODE", string(TransportHTTP))),
		HTTPHost: getEnv("HTTP_HOST", "127.0.0.1"),
		HTTPPort: getEnv("HTTP_PORT", "8787"),

		AllowedOrigins: getEnvCSV("ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),

		BridgeToken:  getEnv("CHATGPT_BRIDGE_TOKEN", ""),
		MarkerSecret: getEnv("MARKER_SECRET", ""),

		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 20),
		JobTimeoutMS: jobTimeoutMS,

		Poll: PollConfig{
			MaxWaitSec:                 maxWaitSec,
			PollIntervalSec:            getEnvFloat("POLL_INTERVAL_SEC", 1.0),
			StableChecks:               getEnvInt("STABLE_CHECKS", 3),
			ExtractNoIndicatorStableMS: getEnvInt("EXTRACT_NO_INDICATOR_STABLE_MS", 4000),
			ScrapeCallTimeoutMS:        getEnvInt("SCRAPE_CALL_TIMEOUT_MS", 8000),
		},
		Prompt: PromptConfig{
			MaxPromptChars:  getEnvInt("MAX_PROMPT_CHARS", 512_000),
			MaxMessageChars: getEnvInt("MAX_MESSAGE_CHARS", 512_000),
		},
		FileContext: FileContextConfig{
			Enabled:       getEnvBool("FILE_CONTEXT_ENABLED", true),
			AllowedRoots:  getEnvList("FILE_CONTEXT_ALLOWED_ROOTS", nil),
			MaxFileChars:  getEnvInt("FILE_CONTEXT_MAX_FILE_CHARS", 200_000),
			MaxTotalChars: getEnvInt("FILE_CONTEXT_MAX_TOTAL_CHARS", 400_000),
		},
		RateLimit: RateLimitConfig{
			RPM:   getEnvInt("RATE_LIMIT_RPM", 60),
			Burst: getEnvInt("RATE_LIMIT_BURST", 60),
		},
		UILabels: UILabelsConfig{
			NewChat:                     getEnv("UI_LABEL_NEW_CHAT", "New chat"),
			Regenerate:                  getEnv("UI_LABEL_REGENERATE", "Regenerate"),
			Continue:                    getEnv("UI_LABEL_CONTINUE", "Continue generating"),
			RequireCompletionIndicators: getEnvBool("REQUIRE_COMPLETION_INDICATORS", false),
			ErrorPatternsJSON:           getEnv("UI_ERROR_PATTERNS_JSON", ""),
		},
		Session: SessionConfig{
			ResetChatEachRequest: getEnvBool("RESET_CHAT_EACH_REQUEST", false),
			ResetStrict:          getEnvBool("RESET_STRICT", false),
			BindingMode:          getEnv("SESSION_BINDING_MODE", "off"),
			DefaultSlot:          getEnv("SESSION_DEFAULT_SLOT", "default"),
			BindingsPath:         getEnv("SESSION_BINDINGS_PATH", "./data/session_bindings.json"),
			StrictOpen:           getEnvBool("SESSION_BINDING_STRICT_OPEN", false),
		},
		Audit: AuditConfig{
			Path:          getEnv("AUDIT_LOG_PATH", "./data/audit/raw.jsonl"),
			MaxBytes:      getEnvInt64("AUDIT_MAX_BYTES", 10*1024*1024),
			MaxAgeDays:    getEnvInt("AUDIT_MAX_AGE_DAYS", 14),
			SanitizeMode:  getEnv("AUDIT_SANITIZE_MODE", "full"),
			PurgeInterval: getEnvDuration("AUDIT_PURGE_INTERVAL", time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Progress: ProgressConfig{
			Enabled: getEnvBool("PROGRESS_STREAM_ENABLED", true),
		},
		Idempotency: IdempotencyConfig{
			TTLSec:    getEnvInt("IDEMPOTENCY_TTL_SEC", 600),
			CacheSize: getEnvInt("IDEMPOTENCY_CACHE_SIZE", 4096),
		},

		UIDriverAddr: getEnv("UI_DRIVER_ADDR", "127.0.0.1:9191"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and
// cross-field constraints hold.
func (c *Config) Validate() error {
	if c.Mode != TransportHTTP && c.Mode != TransportStdio {
		return fmt.Errorf("BRIDGE_MODE must be %q or %q", TransportHTTP, TransportStdio)
	}
	if c.Mode == TransportHTTP && c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be > 0")
	}
	minJobTimeoutMS := (c.Poll.MaxWaitSec + 15) * 1000
	if c.JobTimeoutMS < minJobTimeoutMS {
		return fmt.Errorf("JOB_TIMEOUT_MS must be >= MAX_WAIT_SEC+15s (%dms)", minJobTimeoutMS)
	}
	if c.Poll.StableChecks <= 0 {
		return fmt.Errorf("STABLE_CHECKS must be > 0")
	}
	if c.Prompt.MaxPromptChars <= 0 || c.Prompt.MaxMessageChars <= 0 {
		return fmt.Errorf("MAX_PROMPT_CHARS and MAX_MESSAGE_CHARS must be > 0")
	}
	switch c.Session.BindingMode {
	case "off", "sticky", "explicit":
	default:
		return fmt.Errorf("SESSION_BINDING_MODE must be off, sticky, or explicit")
	}
	return nil
}

// MarkerSecretEffective returns the configured secret, or a freshly
// generated ephemeral one plus a warning flag when unset.
func (c *Config) MarkerSecretEffective(random func() string) (secret string, ephemeral bool) {
	if c.MarkerSecret != "" {
		return c.MarkerSecret, false
	}
	return random(), true
}

// ParseUIErrorPatterns decodes UI_ERROR_PATTERNS_JSON into a generic slice
// of maps, left to the uierror package to interpret further.
func (c *Config) ParseUIErrorPatterns() ([]map[string]any, error) {
	if strings.TrimSpace(c.UILabels.ErrorPatternsJSON) == "" {
		return nil, nil
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(c.UILabels.ErrorPatternsJSON), &out); err != nil {
		return nil, fmt.Errorf("UI_ERROR_PATTERNS_JSON: %w", err)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvCSV splits on commas rather than os.PathListSeparator, for values
// like origin URLs that themselves contain ':'.
func getEnvCSV(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parts := strings.Split(value, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
