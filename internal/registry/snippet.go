package registry

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/snippet"
)

type snippetOwner struct {
	path string
	text bool
}

// Snippets holds text-expansion triggers and the suffix index over their
// keys. A "*" in front of a key marks a postfix snippet: the word typed
// directly before the key is handed to the script as a second argument.
type Snippets struct {
	emit   Emitter
	logger *slog.Logger

	owners  map[snippetOwner]snippet.Entry
	index   *snippet.PrefixIndex
	matcher *snippet.Matcher
	word    []rune
}

// maxWord bounds the text remembered for postfix snippets.
const maxWord = 256

// NewSnippets returns an empty snippet registry.
func NewSnippets(emit Emitter, logger *slog.Logger) *Snippets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snippets{
		emit:    emit,
		logger:  logger,
		owners:  make(map[snippetOwner]snippet.Entry),
		index:   snippet.NewPrefixIndex(),
		matcher: snippet.NewMatcher(snippet.MinKeyLen),
	}
}

func (r *Snippets) Kind() Kind { return KindSnippet }

// Register installs the snippet key declared by meta. Keys shorter than two
// characters are rejected with a warning.
func (r *Snippets) Register(path string, meta *models.ScriptMetadata) error {
	owner := snippetOwner{path: path}
	if meta != nil {
		owner.text = meta.IsTextSnippet
	}
	_, had := r.owners[owner]
	delete(r.owners, owner)

	raw := ""
	if meta != nil {
		raw = strings.TrimSpace(meta.Triggers.Snippet)
	}
	if raw == "" {
		if had {
			r.rebuild()
		}
		return nil
	}

	postfix := strings.HasPrefix(raw, "*")
	key := strings.TrimPrefix(raw, "*")
	if utf8.RuneCountInString(key) < snippet.MinKeyLen {
		r.logger.Warn("registry: snippet key too short",
			slog.String("path", path),
			slog.String("snippet", raw),
		)
		if had {
			r.rebuild()
		}
		return nil
	}

	r.owners[owner] = snippet.Entry{
		TriggerKey:    key,
		FilePath:      path,
		IsPostfix:     postfix,
		IsTextSnippet: owner.text,
	}
	r.rebuild()
	return nil
}

func (r *Snippets) Unregister(path string) {
	removed := false
	for _, text := range []bool{false, true} {
		o := snippetOwner{path: path, text: text}
		if _, ok := r.owners[o]; ok {
			delete(r.owners, o)
			removed = true
		}
	}
	if removed {
		r.rebuild()
	}
}

func (r *Snippets) rebuild() {
	keys := make([]string, 0, len(r.owners))
	for _, e := range r.owners {
		keys = append(keys, e.TriggerKey)
	}
	r.index.Rebuild(keys)
	r.matcher.SetMax(r.index.MaxKeyLen())
}

func (r *Snippets) Has(path string) bool {
	_, a := r.owners[snippetOwner{path: path}]
	_, b := r.owners[snippetOwner{path: path, text: true}]
	return a || b
}

func (r *Snippets) List() []Registration {
	out := make([]Registration, 0, len(r.owners))
	for _, e := range r.Entries() {
		out = append(out, Registration{Path: e.FilePath, Value: e.TriggerKey})
	}
	return out
}

// Entries returns every registered snippet ordered by path.
func (r *Snippets) Entries() []snippet.Entry {
	out := make([]snippet.Entry, 0, len(r.owners))
	for _, e := range r.owners {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Match returns the entries whose key the typed tail ends with, shortest key
// first.
func (r *Snippets) Match(tail string) []snippet.Entry {
	keys := r.index.Lookup(tail)
	if len(keys) == 0 {
		return nil
	}
	var out []snippet.Entry
	for _, k := range keys {
		var group []snippet.Entry
		for _, e := range r.owners {
			if e.TriggerKey == k {
				group = append(group, e)
			}
		}
		sortEntries(group)
		out = append(out, group...)
	}
	return out
}

// Feed records one typed character and emits a run request for every
// snippet completed by it. The typed buffer is cleared after a match.
func (r *Snippets) Feed(ch rune) []snippet.Entry {
	matches := r.Match(r.matcher.Feed(ch))
	r.track(ch)
	for _, e := range matches {
		args := []string{e.TriggerKey}
		if e.IsPostfix {
			args = append(args, r.before(e.TriggerKey))
		}
		r.emit.emit(e.FilePath, models.TriggerSnippet, args...)
	}
	if len(matches) > 0 {
		r.matcher.Reset()
		r.word = r.word[:0]
	}
	return matches
}

// track keeps the current word. Whitespace and control input end it.
func (r *Snippets) track(ch rune) {
	if unicode.IsSpace(ch) || unicode.IsControl(ch) {
		r.word = r.word[:0]
		return
	}
	r.word = append(r.word, ch)
	if len(r.word) > maxWord {
		r.word = append(r.word[:0], r.word[len(r.word)-maxWord:]...)
	}
}

// before returns the part of the current word that precedes key.
func (r *Snippets) before(key string) string {
	w := string(r.word)
	if !strings.HasSuffix(w, key) {
		return ""
	}
	return strings.TrimSuffix(w, key)
}

func sortEntries(es []snippet.Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].FilePath != es[j].FilePath {
			return es[i].FilePath < es[j].FilePath
		}
		return !es[i].IsTextSnippet && es[j].IsTextSnippet
	})
}
