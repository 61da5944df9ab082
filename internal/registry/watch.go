package registry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/kitd/internal/models"
)

// GlobWatcherFactory starts watching files matching patterns on behalf of
// script. onMatch is invoked with each changed file.
type GlobWatcherFactory func(script string, patterns []string, onMatch func(file string)) (io.Closer, error)

type watchEntry struct {
	patterns []string
	closer   io.Closer
}

// Watches runs scripts when files matching their "Watch:" globs change.
type Watches struct {
	factory GlobWatcherFactory
	emit    Emitter
	logger  *slog.Logger
	home    string

	byPath map[string]watchEntry
}

// NewWatches returns an empty watch registry. With a nil factory patterns are
// recorded and matched through Match only.
func NewWatches(factory GlobWatcherFactory, emit Emitter, logger *slog.Logger) *Watches {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	return &Watches{
		factory: factory,
		emit:    emit,
		logger:  logger,
		home:    home,
		byPath:  make(map[string]watchEntry),
	}
}

func (r *Watches) Kind() Kind { return KindWatch }

// Register installs the comma-separated glob list of the script. Patterns
// starting with "~/" are expanded against the home directory.
func (r *Watches) Register(path string, meta *models.ScriptMetadata) error {
	r.Unregister(path)
	if meta == nil || meta.Triggers.Watch == "" {
		return nil
	}

	var patterns []string
	for _, raw := range strings.Split(meta.Triggers.Watch, ",") {
		pat := strings.TrimSpace(raw)
		if pat == "" {
			continue
		}
		pat = r.expand(pat)
		if _, err := doublestar.Match(pat, ""); err != nil {
			r.logger.Warn("registry: invalid watch pattern",
				slog.String("path", path),
				slog.String("pattern", raw),
			)
			continue
		}
		patterns = append(patterns, pat)
	}
	if len(patterns) == 0 {
		return nil
	}

	entry := watchEntry{patterns: patterns}
	if r.factory != nil {
		closer, err := r.factory(path, patterns, func(file string) {
			r.emit.emit(path, models.TriggerWatch, file)
		})
		if err != nil {
			return fmt.Errorf("watch: start %s: %w", path, err)
		}
		entry.closer = closer
	}
	r.byPath[path] = entry
	return nil
}

func (r *Watches) expand(pat string) string {
	if r.home != "" && (pat == "~" || strings.HasPrefix(pat, "~/")) {
		pat = r.home + pat[1:]
	}
	return filepath.ToSlash(pat)
}

func (r *Watches) Unregister(path string) {
	e, ok := r.byPath[path]
	if !ok {
		return
	}
	if e.closer != nil {
		if err := e.closer.Close(); err != nil {
			r.logger.Warn("registry: close watcher", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	delete(r.byPath, path)
}

func (r *Watches) Has(path string) bool {
	_, ok := r.byPath[path]
	return ok
}

func (r *Watches) List() []Registration {
	m := make(map[string]string, len(r.byPath))
	for p, e := range r.byPath {
		m[p] = strings.Join(e.patterns, ",")
	}
	return sortedRegistrations(m)
}

// Patterns returns the expanded patterns registered for path.
func (r *Watches) Patterns(path string) []string {
	return append([]string(nil), r.byPath[path].patterns...)
}

// Match returns the scripts whose patterns match file.
func (r *Watches) Match(file string) []string {
	file = filepath.ToSlash(file)
	var out []string
	for _, reg := range r.List() {
		for _, pat := range r.byPath[reg.Path].patterns {
			if ok, err := doublestar.Match(pat, file); err == nil && ok {
				out = append(out, reg.Path)
				break
			}
		}
	}
	return out
}
