// Package parser extracts the metadata comment header and static imports from
// a script file.
package parser

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/starford/kitd/internal/models"
)

var (
	headerRe = regexp.MustCompile(`^(?://|#)\s*([A-Za-z][A-Za-z0-9_-]*)\s*:\s*(.*?)\s*$`)

	importRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*import\s+(?:[\w*{}\s,$]+\s+from\s+)?["']([^"']+)["']`),
		regexp.MustCompile(`(?m)^\s*export\s+[\w*{}\s,$]+\s+from\s+["']([^"']+)["']`),
		regexp.MustCompile(`\bimport\(\s*["']([^"']+)["']\s*\)`),
		regexp.MustCompile(`\brequire\(\s*["']([^"']+)["']\s*\)`),
	}
)

// ScriptExtensions lists the file extensions treated as scripts.
var ScriptExtensions = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true,
	".ts": true, ".mts": true, ".cts": true,
	".jsx": true, ".tsx": true,
}

// BuildExtensions lists script extensions that need a build step before
// they can run.
var BuildExtensions = map[string]bool{
	".ts": true, ".mts": true, ".cts": true,
	".jsx": true, ".tsx": true,
}

// IsScript reports whether path is a script or a text snippet file.
func IsScript(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ScriptExtensions[ext] {
		return true
	}
	return ext == ".txt" && IsTextSnippetPath(path)
}

// NeedsBuild reports whether path is a build-required source.
func NeedsBuild(path string) bool {
	return BuildExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsTextSnippetPath reports whether path lives in a snippets directory.
func IsTextSnippetPath(path string) bool {
	return filepath.Base(filepath.Dir(path)) == "snippets"
}

// KenvOf derives the kenv name from a path of the form
// .../kenvs/<name>/(scripts|snippets)/file. Anything else is the root kenv.
func KenvOf(path string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i := len(parts) - 3; i >= 0; i-- {
		if parts[i] != "kenvs" || i+2 >= len(parts) {
			continue
		}
		if parts[i+2] == "scripts" || parts[i+2] == "snippets" {
			return parts[i+1]
		}
	}
	return ""
}

// ParseFile reads and parses the script at path. Unreadable files fail.
func ParseFile(path string) (*models.ScriptMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse builds the metadata record for the script at path from its raw
// contents. Missing header fields fall back to defaults derived from the
// path. Binary content is rejected.
func Parse(path string, data []byte) (*models.ScriptMetadata, error) {
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, fmt.Errorf("parser: %s is not a text file", path)
	}

	command := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta := &models.ScriptMetadata{
		FilePath:      path,
		Name:          command,
		Command:       command,
		Kenv:          KenvOf(path),
		IsTextSnippet: IsTextSnippetPath(path),
		Checksum:      Checksum(data),
	}

	for key, value := range parseHeader(data) {
		switch key {
		case "name":
			meta.Name = value
		case "description":
			meta.Description = value
		case "shortcut":
			meta.Triggers.Shortcut = value
		case "schedule", "cron":
			meta.Triggers.Schedule = value
		case "system":
			meta.Triggers.System = value
		case "watch":
			meta.Triggers.Watch = value
		case "background":
			meta.Triggers.Background = value
		case "snippet", "expand":
			meta.Triggers.Snippet = value
		}
	}

	if !meta.IsTextSnippet {
		meta.Imports = ExtractImports(data)
	}
	return meta, nil
}

// parseHeader collects "Key: value" pairs from the leading comment block.
// Keys are lowercased; the first occurrence of a key wins. Scanning stops at
// the first line that is neither blank nor a comment.
func parseHeader(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	inBlock := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			if strings.HasPrefix(line, "#!") {
				continue
			}
		}
		switch {
		case line == "":
			continue
		case inBlock:
			if strings.Contains(line, "*/") {
				inBlock = false
			}
			continue
		case strings.HasPrefix(line, "/*"):
			inBlock = !strings.Contains(line, "*/")
			continue
		case !strings.HasPrefix(line, "//") && !strings.HasPrefix(line, "#"):
			return out
		}

		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.ToLower(m[1])
		if _, seen := out[key]; seen {
			continue
		}
		out[key] = m[2]
	}
	return out
}

// ExtractImports returns the deduplicated module specifiers of every static
// import, re-export, dynamic import and require call, in order of first
// appearance.
func ExtractImports(data []byte) []string {
	type hit struct {
		pos  int
		spec string
	}
	var hits []hit
	for _, re := range importRes {
		for _, m := range re.FindAllSubmatchIndex(data, -1) {
			hits = append(hits, hit{pos: m[2], spec: string(data[m[2]:m[3]])})
		}
	}
	// Insertion sort by position; header files rarely hold more than a few dozen.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]struct{}, len(hits))
	var out []string
	for _, h := range hits {
		if _, dup := seen[h.spec]; dup {
			continue
		}
		seen[h.spec] = struct{}{}
		out = append(out, h.spec)
	}
	return out
}

// ResolveImport maps a relative specifier found in from onto an existing
// script path. Bare package specifiers and unresolvable paths return "".
func ResolveImport(from, spec string, exists func(string) bool) string {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return ""
	}
	base := filepath.Join(filepath.Dir(from), filepath.FromSlash(spec))
	if ScriptExtensions[strings.ToLower(filepath.Ext(base))] && exists(base) {
		return base
	}
	// ESM-style ".js" specifiers frequently point at a ".ts" source.
	trimmed := strings.TrimSuffix(base, filepath.Ext(base))
	for _, ext := range []string{".ts", ".js", ".mjs", ".tsx", ".jsx", ".cjs", ".mts", ".cts"} {
		if exists(trimmed + ext) {
			return trimmed + ext
		}
		if exists(base + ext) {
			return base + ext
		}
	}
	return ""
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
