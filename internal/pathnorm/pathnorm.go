// Package pathnorm canonicalises filesystem paths so that events reported by
// different watcher backends compare equal.
package pathnorm

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Normalizer turns a path into its comparison key.
type Normalizer struct {
	// FoldCase lowercases the result. Set it on case-insensitive filesystems.
	FoldCase bool
}

// Default returns a Normalizer suited to the current platform: case folding
// on darwin and windows, exact case elsewhere.
func Default() Normalizer {
	return Normalizer{FoldCase: runtime.GOOS == "darwin" || runtime.GOOS == "windows"}
}

// Normalize cleans p, converts separators to forward slashes and, if
// configured, folds case. The empty path stays empty.
func (n Normalizer) Normalize(p string) string {
	if p == "" {
		return ""
	}
	out := filepath.ToSlash(filepath.Clean(p))
	out = strings.ReplaceAll(out, `\`, "/")
	if n.FoldCase {
		out = strings.ToLower(out)
	}
	return out
}

// Equal reports whether a and b normalise to the same key.
func (n Normalizer) Equal(a, b string) bool {
	return n.Normalize(a) == n.Normalize(b)
}
