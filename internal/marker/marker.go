// Package marker computes the deterministic per-request signature appended
// to every rendered prompt so the extractor can unambiguously locate the
// assistant's reply segment in a noisy accessibility-tree dump.
package marker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
)

const tagLen = 16

// linePattern is the full marker line shape: a single line, no brackets or
// newlines inside the tag/rid, matching [[OC=<rid>.<tag>]].
var linePattern = regexp.MustCompile(`^\[\[OC=[^\[\]\r\n]+\.[A-Za-z0-9_-]{16}\]\]$`)

// Make returns the marker line for rid under secret: [[OC=<rid>.<tag>]]
// where tag is the first 16 chars of base64url(HMAC-SHA256(secret, rid)).
// Deterministic in (rid, secret); differs across distinct rid values for a
// fixed secret (collision probability is the HMAC's, i.e. negligible).
func Make(rid, secret string) string {
	return fmt.Sprintf("[[OC=%s.%s]]", rid, Tag(rid, secret))
}

// Tag computes the truncated keyed MAC alone, without the surrounding
// marker syntax. Exposed for tests that only need the tag.
func Tag(rid, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(rid))
	sum := mac.Sum(nil)
	full := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sum)
	if len(full) < tagLen {
		return full
	}
	return full[:tagLen]
}

// Verify reports whether line is a well-formed marker for rid under secret.
func Verify(line, rid, secret string) bool {
	return line == Make(rid, secret)
}

// IsMarkerLine reports whether s has the syntactic shape of a marker line,
// regardless of which request id or secret produced it. Used by the
// extractor and prompt sanitizer to detect leaked marker fragments without
// needing the secret.
func IsMarkerLine(s string) bool {
	return linePattern.MatchString(s)
}

// ContainsMarker reports whether s contains a marker-shaped substring
// anywhere, not just as a whole line. Used to reject extraction results
// that leak a bridge marker mid-text.
func ContainsMarker(s string) bool {
	return regexp.MustCompile(`\[\[OC=[^\[\]\r\n]+\.[A-Za-z0-9_-]{16}\]\]`).MatchString(s)
}
