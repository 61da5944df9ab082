// Package preview renders and caches the text preview shown next to a script
// in the prompt list.
package preview

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/starford/kitd/internal/models"
)

// DefaultSize is the number of previews kept in memory.
const DefaultSize = 512

// maxSourceLines bounds how much of the script body a preview includes.
const maxSourceLines = 40

// Entry is one rendered preview.
type Entry struct {
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	Body       string    `json:"body"`
	RenderedAt time.Time `json:"rendered_at"`
}

// Cache holds rendered previews keyed by script path. It is safe for
// concurrent use.
type Cache struct {
	entries *lru.Cache[string, Entry]
}

// New creates a cache holding up to size previews.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("preview: new cache: %w", err)
	}
	return &Cache{entries: c}, nil
}

// Get returns the cached preview for path.
func (c *Cache) Get(path string) (Entry, bool) {
	return c.entries.Get(path)
}

// Put stores e, evicting the least recently used entry when full.
func (c *Cache) Put(e Entry) {
	c.entries.Add(e.Path, e)
}

// Invalidate drops the preview for path and reports whether one existed.
func (c *Cache) Invalidate(path string) bool {
	return c.entries.Remove(path)
}

// Len returns the number of cached previews.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Render builds the preview for a script: a markdown summary of its metadata
// followed by the head of its source.
func Render(meta *models.ScriptMetadata, source []byte, now time.Time) Entry {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", meta.Name)
	if meta.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", meta.Description)
	}

	t := meta.Triggers
	for _, row := range [][2]string{
		{"Shortcut", t.Shortcut},
		{"Schedule", t.Schedule},
		{"System", t.System},
		{"Watch", t.Watch},
		{"Background", t.Background},
		{"Snippet", t.Snippet},
	} {
		if row[1] != "" {
			fmt.Fprintf(&b, "- **%s**: `%s`\n", row[0], row[1])
		}
	}
	if meta.Kenv != "" {
		fmt.Fprintf(&b, "- **Kenv**: %s\n", meta.Kenv)
	}

	lines := strings.Split(strings.TrimRight(string(source), "\n"), "\n")
	truncated := len(lines) > maxSourceLines
	if truncated {
		lines = lines[:maxSourceLines]
	}
	lang := "js"
	if meta.IsTextSnippet {
		lang = "text"
	}
	fmt.Fprintf(&b, "\n```%s\n%s\n```\n", lang, strings.Join(lines, "\n"))
	if truncated {
		b.WriteString("\n…\n")
	}

	return Entry{
		Path:       meta.FilePath,
		Checksum:   meta.Checksum,
		Body:       b.String(),
		RenderedAt: now,
	}
}
