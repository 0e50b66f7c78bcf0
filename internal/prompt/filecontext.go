package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
)

// BridgeFile is one entry of a structured bridge_files list.
type BridgeFile struct {
	Path  string
	Label string
}

// FileContextBlock holds everything needed to expand a file-context
// section: the structured list from the request body, and/or a trailing
// [BRIDGE_FILES]...[/BRIDGE_FILES] text block, validated against a set of
// allowed roots and size caps.
type FileContextBlock struct {
	Files          []BridgeFile
	AllowedRoots   []string
	MaxFileChars   int
	MaxTotalChars  int
	Diagnostics    *Diagnostics
}

// Diagnostics mirrors the audit-log contract named in the design notes:
// counters for block detection must be preserved verbatim.
type Diagnostics struct {
	BlocksDetected   int
	TerminalBlock    bool
	NonTerminalSkips int
}

var bridgeFilesBlock = regexp.MustCompile(`(?s)\[BRIDGE_FILES\](.*?)\[/BRIDGE_FILES\]`)

// ExtractTrailingBlock scans body for [BRIDGE_FILES]...[/BRIDGE_FILES]
// occurrences. Only the last occurrence is honored, and only when nothing
// follows it but whitespace; earlier or non-terminal occurrences are left
// in place untouched and counted in diag.
func ExtractTrailingBlock(body string, diag *Diagnostics) (remaining string, entries []BridgeFile, found bool) {
	matches := bridgeFilesBlock.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, nil, false
	}
	diag.BlocksDetected = len(matches)

	last := matches[len(matches)-1]
	tail := body[last[1]:]
	if strings.TrimSpace(tail) != "" {
		diag.NonTerminalSkips = len(matches)
		return body, nil, false
	}

	diag.TerminalBlock = true
	inner := body[last[2]:last[3]]
	remaining = strings.TrimRight(body[:last[0]], "\n")
	return remaining, parseBlockBody(inner), true
}

// parseBlockBody parses either JSON-ish "path: label" lines or a simple
// "path|label" pipe form, one file per non-empty line.
func parseBlockBody(inner string) []BridgeFile {
	var out []BridgeFile
	for _, line := range strings.Split(inner, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.Index(line, "|"); idx >= 0 {
			out = append(out, BridgeFile{
				Path:  strings.TrimSpace(line[:idx]),
				Label: strings.TrimSpace(line[idx+1:]),
			})
			continue
		}
		if idx := strings.Index(line, ":"); idx >= 0 {
			out = append(out, BridgeFile{
				Path:  strings.TrimSpace(line[:idx]),
				Label: strings.TrimSpace(line[idx+1:]),
			})
			continue
		}
		out = append(out, BridgeFile{Path: line, Label: filepath.Base(line)})
	}
	return out
}

func (f *FileContextBlock) allowed(abs string) bool {
	if len(f.AllowedRoots) == 0 {
		return true
	}
	for _, root := range f.AllowedRoots {
		rel, err := filepath.Rel(root, abs)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func dedupeCanonical(files []BridgeFile) []BridgeFile {
	seen := make(map[string]bool)
	var out []BridgeFile
	for _, f := range files {
		canon := filepath.Clean(f.Path)
		if seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, f)
	}
	return out
}

// Render validates and reads every file, producing the [FILE_CONTEXT]
// section appended to the prompt body, plus the list of canonical paths
// actually included.
func (f *FileContextBlock) Render() (string, []string, error) {
	if len(f.Files) == 0 {
		return "", nil, nil
	}

	files := dedupeCanonical(f.Files)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var b strings.Builder
	b.WriteString("[FILE_CONTEXT]\n")
	var refs []string
	total := 0

	for _, bf := range files {
		if !filepath.IsAbs(bf.Path) {
			return "", nil, bridgeerr.New(bridgeerr.FileContextInvalid, "bridge file path must be absolute: "+bf.Path)
		}
		abs := filepath.Clean(bf.Path)
		if !f.allowed(abs) {
			return "", nil, bridgeerr.New(bridgeerr.FileContextDenied, "path outside allowed roots: "+abs)
		}

		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil, bridgeerr.New(bridgeerr.FileContextNotFound, "file not found: "+abs)
			}
			return "", nil, bridgeerr.New(bridgeerr.FileContextDenied, "cannot access file: "+abs)
		}
		if !info.Mode().IsRegular() {
			return "", nil, bridgeerr.New(bridgeerr.FileContextUnsup, "not a regular file: "+abs)
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return "", nil, bridgeerr.New(bridgeerr.FileContextDenied, "cannot read file: "+abs)
		}
		if !utf8.Valid(data) {
			return "", nil, bridgeerr.New(bridgeerr.FileContextUnsup, "file is not valid UTF-8: "+abs)
		}
		if strings.ContainsRune(string(data), 0) {
			return "", nil, bridgeerr.New(bridgeerr.FileContextUnsup, "file contains NUL bytes: "+abs)
		}

		content := string(data)
		if f.MaxFileChars > 0 && len(content) > f.MaxFileChars {
			return "", nil, bridgeerr.New(bridgeerr.FileContextInvalid, fmt.Sprintf("file exceeds per-file cap: %s", abs))
		}
		total += len(content)
		if f.MaxTotalChars > 0 && total > f.MaxTotalChars {
			return "", nil, bridgeerr.New(bridgeerr.FileContextInvalid, "file context total exceeds cap")
		}

		label := bf.Label
		if label == "" {
			label = filepath.Base(abs)
		}

		b.WriteString(fmt.Sprintf("--- BEGIN FILE: %s ---\n", label))
		b.WriteString("path: " + abs + "\n")
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("--- END FILE: %s ---\n", label))
		refs = append(refs, abs)
	}
	b.WriteString("[/FILE_CONTEXT]")

	return b.String(), refs, nil
}
