package workflow

import (
	"path/filepath"
	"regexp"
	"strings"
)

// evidencePathPattern matches a conservative filename shape: an optional
// Windows drive prefix, then path/filename characters, then a 1-8 character
// extension. Grounded on the original implementation's
// _extract_evidence_paths regex.
var evidencePathPattern = regexp.MustCompile(`(?:[A-Za-z]:[\\/])?[A-Za-z0-9._/-]+\.[A-Za-z0-9]{1,8}`)

// ExtractEvidencePaths scans text for repo-relative file paths, normalizing
// absolute paths under workspaceDir to workspace-relative form. http(s)
// URLs and matches shorter than 5 characters are excluded. Order of first
// appearance is preserved; duplicates are removed.
func ExtractEvidencePaths(text, workspaceDir string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, m := range evidencePathPattern.FindAllString(text, -1) {
		if len(m) < 5 {
			continue
		}
		if isURLFragment(text, m) {
			continue
		}
		normalized := normalizeEvidencePath(m, workspaceDir)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// isURLFragment reports whether m is preceded immediately by "http://" or
// "https://" within text, or is the tail of such a URL that the regex's
// drive-prefix branch picked up (the last scheme letter plus "://host/...",
// e.g. "s://example.com/a.md"). A crude but effective way to exclude URL
// paths matched by the same regex.
func isURLFragment(text, m string) bool {
	idx := strings.Index(text, m)
	if idx < 0 {
		return false
	}
	prefix := text[:idx]
	if strings.HasPrefix(m[1:], "://") {
		withLetter := text[:idx+1]
		if strings.HasSuffix(withLetter, "http") || strings.HasSuffix(withLetter, "https") {
			return true
		}
	}
	return strings.HasSuffix(prefix, "http://") || strings.HasSuffix(prefix, "https://") ||
		strings.Contains(m, "http://") || strings.Contains(m, "https://")
}

func normalizeEvidencePath(m, workspaceDir string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if workspaceDir == "" {
		return filepath.ToSlash(m)
	}
	if filepath.IsAbs(m) {
		rel, err := filepath.Rel(workspaceDir, m)
		if err != nil || strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(m)
		}
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(m)
}
