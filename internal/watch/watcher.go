// Package watch is the fsnotify backend that turns raw filesystem
// notifications into classified add/change/unlink events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/storage"
)

// Handler receives each classified event. It is called from the watcher
// goroutine.
type Handler func(ev models.WatchEvent)

type watcher struct {
	fsw    *fsnotify.Watcher
	layout storage.Layout
	logger *slog.Logger
	emit   Handler

	state map[string]bool // state file paths
	dirs  map[string]bool // script directories being watched
	known map[string]bool // script paths seen on disk
}

// Watch follows the scripts directory, text snippet directory, every
// sub-kenv and the state files until ctx is cancelled.
//
// Failing to watch the root scripts directory is fatal and returned before
// any event is delivered. Every other watch failure is logged and skipped.
// Sub-kenvs appearing or disappearing at runtime are added to or removed
// from the watch list; their scripts are reported as add/unlink.
func Watch(ctx context.Context, layout storage.Layout, logger *slog.Logger, emit Handler) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w := &watcher{
		fsw:    fsw,
		layout: layout,
		logger: logger,
		emit:   emit,
		state:  make(map[string]bool),
		dirs:   make(map[string]bool),
		known:  make(map[string]bool),
	}

	if err := fsw.Add(layout.ScriptsDir()); err != nil {
		return fmt.Errorf("watch: scripts dir %s: %w", layout.ScriptsDir(), err)
	}
	w.dirs[filepath.Clean(layout.ScriptsDir())] = true
	w.seed(layout.ScriptsDir())
	w.addScriptDir(layout.SnippetsDir())

	for _, f := range layout.StateFiles() {
		w.state[filepath.Clean(f)] = true
	}
	parents := map[string]bool{}
	for f := range w.state {
		parents[filepath.Dir(f)] = true
	}
	for dir := range parents {
		w.addDir(dir)
	}

	if w.addDir(layout.KenvsDir()) {
		for _, name := range layout.Kenvs() {
			w.addKenv(name, false)
		}
	}

	logger.Info("watcher: started", slog.String("scripts", layout.ScriptsDir()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	dir := filepath.Dir(path)

	// kenvs/<name> appeared or vanished.
	if dir == filepath.Clean(w.layout.KenvsDir()) {
		name := filepath.Base(path)
		switch {
		case ev.Op&fsnotify.Create != 0 && isDir(path):
			w.addKenv(name, true)
		case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
			w.removeKenv(name)
		}
		return
	}

	// kenvs or snippets created after startup.
	if ev.Op&fsnotify.Create != 0 && isDir(path) {
		switch path {
		case filepath.Clean(w.layout.KenvsDir()):
			if w.addDir(path) {
				for _, name := range w.layout.Kenvs() {
					w.addKenv(name, true)
				}
			}
			return
		case filepath.Clean(w.layout.SnippetsDir()):
			if w.addScriptDir(path) {
				w.emitDir(path)
			}
			return
		}
	}

	// kenvs/<name>/scripts created after the kenv itself.
	if ev.Op&fsnotify.Create != 0 && filepath.Dir(dir) == filepath.Clean(w.layout.KenvsDir()) && isDir(path) {
		base := filepath.Base(path)
		if base == "scripts" || base == "snippets" {
			w.addScriptDir(path)
			w.emitDir(path)
		}
		return
	}

	if w.state[path] {
		if kind, ok := classify(ev.Op); ok {
			w.emit(models.WatchEvent{Kind: kind, Path: path, At: time.Now()})
		}
		return
	}

	if !w.dirs[dir] || !parser.IsScript(path) {
		return
	}
	kind, ok := classify(ev.Op)
	if !ok {
		return
	}
	switch kind {
	case models.EventUnlink:
		delete(w.known, path)
	case models.EventAdd:
		// A file renamed over an existing script is an atomic save.
		if w.known[path] {
			kind = models.EventChange
		}
		w.known[path] = true
	default:
		w.known[path] = true
	}
	w.logger.Debug("watcher: event", slog.String("path", path), slog.String("op", kind.String()))
	w.emit(models.WatchEvent{Kind: kind, Path: path, At: time.Now()})
}

// classify maps fsnotify ops onto event kinds. Chmod is ignored. fsnotify
// reports Rename on the old path only; the new path arrives as Create, which
// handle turns into a change when the path is already known.
func classify(op fsnotify.Op) (models.EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return models.EventAdd, true
	case op&fsnotify.Write != 0:
		return models.EventChange, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return models.EventUnlink, true
	default:
		return 0, false
	}
}

func (w *watcher) addDir(dir string) bool {
	if err := w.fsw.Add(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("watcher: add dir failed", slog.String("path", dir), slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

func (w *watcher) addScriptDir(dir string) bool {
	if !w.addDir(dir) {
		return false
	}
	w.dirs[filepath.Clean(dir)] = true
	w.seed(dir)
	return true
}

func (w *watcher) addKenv(name string, announce bool) {
	base := filepath.Join(w.layout.KenvsDir(), name)
	w.addDir(base)
	for _, dir := range w.layout.KenvDirs(name) {
		if w.addScriptDir(dir) && announce {
			w.emitDir(dir)
		}
	}
	w.logger.Debug("watcher: kenv added", slog.String("kenv", name))
}

func (w *watcher) removeKenv(name string) {
	prefix := filepath.Join(w.layout.KenvsDir(), name) + string(os.PathSeparator)
	for _, dir := range w.layout.KenvDirs(name) {
		dir = filepath.Clean(dir)
		if w.dirs[dir] {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	_ = w.fsw.Remove(filepath.Join(w.layout.KenvsDir(), name))
	for p := range w.known {
		if strings.HasPrefix(p, prefix) {
			delete(w.known, p)
			w.emit(models.WatchEvent{Kind: models.EventUnlink, Path: p, At: time.Now()})
		}
	}
	w.logger.Debug("watcher: kenv removed", slog.String("kenv", name))
}

// seed records the scripts already present in dir without emitting.
func (w *watcher) seed(dir string) {
	for _, p := range scriptsIn(dir) {
		w.known[p] = true
	}
}

// emitDir reports every script in a directory that appeared after startup.
func (w *watcher) emitDir(dir string) {
	for _, p := range scriptsIn(dir) {
		w.known[p] = true
		w.emit(models.WatchEvent{Kind: models.EventAdd, Path: p, At: time.Now()})
	}
}

func scriptsIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.IsDir() && parser.IsScript(p) {
			out = append(out, p)
		}
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
