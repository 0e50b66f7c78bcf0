// Package uierror implements the fixed UI-error detection pass: a
// case-insensitive substring scan of a full scrape against a configurable
// pattern list, mapped to a closed set of bridge error kinds.
package uierror

import (
	"strings"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
)

// Pattern is one {code, includes[]} entry.
type Pattern struct {
	Code     string
	Includes []string
}

// kindForCode is the fixed mapping from pattern code to bridge error kind.
var kindForCode = map[string]bridgeerr.Kind{
	"usage_cap":     bridgeerr.UsageCap,
	"rate_limited":  bridgeerr.RateLimitedByChatGPT,
	"network_error": bridgeerr.NetworkError,
	"captcha":       bridgeerr.Captcha,
	"auth_required": bridgeerr.AuthRequired,
}

// rateLikeDefaultRetry is the default retry_after_sec for the two
// rate-like kinds when the pattern doesn't override it.
const rateLikeDefaultRetry = 60

// DefaultPatterns mirrors the fixed pattern set named in the design: each
// kind has at least one substring known to appear in the chat app's own
// error banners. Operators may extend this via UI_ERROR_PATTERNS_JSON;
// Detect always consults the configured list, not this default, so the
// default only seeds config loading.
var DefaultPatterns = []Pattern{
	{Code: "usage_cap", Includes: []string{"you've reached", "message limit", "try again later"}},
	{Code: "rate_limited", Includes: []string{"too many requests", "rate limit"}},
	{Code: "network_error", Includes: []string{"network error", "connection lost", "check your connection"}},
	{Code: "captcha", Includes: []string{"verify you are human", "unusual traffic", "captcha"}},
	{Code: "auth_required", Includes: []string{"log in to continue", "session expired", "please log in"}},
}

// Detect runs patterns against text, case-insensitively, and returns the
// mapped bridge error on the first match. Patterns are evaluated in order;
// callers wanting deterministic precedence should order accordingly.
func Detect(text string, patterns []Pattern) *bridgeerr.Error {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		for _, needle := range p.Includes {
			if needle == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(needle)) {
				kind, ok := kindForCode[p.Code]
				if !ok {
					kind = bridgeerr.UIError
				}
				be := bridgeerr.New(kind, "ui text matched pattern: "+p.Code)
				if kind == bridgeerr.UsageCap || kind == bridgeerr.RateLimitedByChatGPT {
					be = be.WithRetryAfter(rateLikeDefaultRetry)
				}
				return be
			}
		}
	}
	return nil
}
