package watcher

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var driveLetterRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// ResolvePath resolves a stored source locator against the configured root.
// Drive-letter paths (C:\...) and UNC paths (\\host\share) are honored as
// absolute. Everything else, including a leading separator, is treated as
// root-relative so a locator like "/etc/passwd" cannot escape the root.
func ResolvePath(root, p string) string {
	p = strings.TrimSpace(p)
	if driveLetterRe.MatchString(p) || strings.HasPrefix(p, `\\`) {
		return filepath.Clean(p)
	}
	rel := strings.TrimLeft(filepath.ToSlash(p), "/")
	return filepath.Join(root, filepath.FromSlash(rel))
}

// NormalizePath canonicalizes a source locator for equality matching:
// forward slashes, no leading separator, cleaned. Matching only, never
// used to touch the filesystem.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
