package watch

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/starford/kitd/internal/debounce"
	"github.com/starford/kitd/internal/registry"
)

// GlobDebounce coalesces repeated writes to one matched file.
const GlobDebounce = 100 * time.Millisecond

// GlobWatcher reports files matching a set of doublestar patterns.
type GlobWatcher struct {
	fsw      *fsnotify.Watcher
	patterns []string
	onMatch  func(file string)
	logger   *slog.Logger
	sched    *debounce.Scheduler

	done      chan struct{}
	closeOnce sync.Once
}

// NewGlobFactory returns a registry.GlobWatcherFactory backed by fsnotify.
func NewGlobFactory(logger *slog.Logger) registry.GlobWatcherFactory {
	return func(script string, patterns []string, onMatch func(string)) (io.Closer, error) {
		return NewGlobWatcher(patterns, onMatch, logger.With(slog.String("script", script)))
	}
}

// NewGlobWatcher watches the static base directory of every pattern,
// recursing when the pattern contains "**".
func NewGlobWatcher(patterns []string, onMatch func(file string), logger *slog.Logger) (*GlobWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	g := &GlobWatcher{
		fsw:      fsw,
		patterns: patterns,
		onMatch:  onMatch,
		logger:   logger,
		sched:    debounce.New(nil),
		done:     make(chan struct{}),
	}
	for _, pat := range patterns {
		base, rest := doublestar.SplitPattern(pat)
		if strings.Contains(rest, "**") {
			err = addDirsRecursive(fsw, base)
		} else {
			err = fsw.Add(base)
		}
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: glob base %s: %w", base, err)
		}
	}
	go g.run()
	return g, nil
}

func (g *GlobWatcher) run() {
	for {
		select {
		case <-g.done:
			return
		case ev, ok := <-g.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 && g.recursive() && isDir(ev.Name) {
				if err := addDirsRecursive(g.fsw, ev.Name); err != nil {
					g.logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
				}
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 || !g.Matches(ev.Name) {
				continue
			}
			file := ev.Name
			g.sched.Schedule(file, GlobDebounce, func() { g.onMatch(file) })
		case err, ok := <-g.fsw.Errors:
			if !ok {
				return
			}
			g.logger.Warn("watcher: glob error", slog.String("error", err.Error()))
		}
	}
}

// Matches reports whether file matches any pattern.
func (g *GlobWatcher) Matches(file string) bool {
	normalized := filepath.ToSlash(file)
	for _, pat := range g.patterns {
		if matched, matchErr := doublestar.Match(pat, normalized); matchErr == nil && matched {
			return true
		}
	}
	return false
}

func (g *GlobWatcher) recursive() bool {
	for _, pat := range g.patterns {
		if strings.Contains(pat, "**") {
			return true
		}
	}
	return false
}

// Close stops watching and drops pending notifications.
func (g *GlobWatcher) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		g.sched.Close()
		err = g.fsw.Close()
	})
	return err
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
