package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/kitd/internal/debounce"
	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/recent"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/storage"
)

// Coordinator keeps every trigger registry in step with one script file.
//
// Per path the lifecycle is Unregistered → Registered → Unregistered. Parsing
// happens off the loop; each event bumps a per-path generation and a parse
// result whose generation is no longer current is dropped, so an unlink that
// lands while a parse is in flight wins.
type Coordinator struct {
	exec     Executor
	parse    ParseFunc
	regs     *registry.Set
	db       index.ScriptIndex
	store    storage.Provider
	previews *preview.Cache
	rescan   *Rescanner
	tracker  *recent.Tracker
	norm     pathnorm.Normalizer
	builder  Builder
	bins     *BinStubs
	notify   Notifier
	timings  Timings
	logger   *slog.Logger
	sched    *debounce.Scheduler
	now      func() time.Time

	gens    map[string]uint64
	seen    map[string]bool
	ready   bool
	removed uint64
}

// CoordinatorConfig wires a Coordinator. Builder and Bins may be nil.
type CoordinatorConfig struct {
	Exec       Executor
	Parse      ParseFunc
	Registries *registry.Set
	Index      index.ScriptIndex
	Store      storage.Provider
	Previews   *preview.Cache
	Rescanner  *Rescanner
	Tracker    *recent.Tracker
	Normalizer pathnorm.Normalizer
	Builder    Builder
	Bins       *BinStubs
	Notifier   Notifier
	Timings    Timings
	Logger     *slog.Logger
}

// NewCoordinator builds a Coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Parse == nil {
		cfg.Parse = parser.ParseFile
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		exec:     cfg.Exec,
		parse:    cfg.Parse,
		regs:     cfg.Registries,
		db:       cfg.Index,
		store:    cfg.Store,
		previews: cfg.Previews,
		rescan:   cfg.Rescanner,
		tracker:  cfg.Tracker,
		norm:     cfg.Normalizer,
		builder:  cfg.Builder,
		bins:     cfg.Bins,
		notify:   cfg.Notifier,
		timings:  cfg.Timings,
		logger:   cfg.Logger,
		sched:    debounce.New(cfg.Exec.Post),
		now:      time.Now,
		gens:     make(map[string]uint64),
		seen:     make(map[string]bool),
	}
}

// Handle processes one script event. It must run on the loop.
func (c *Coordinator) Handle(ev models.WatchEvent) {
	c.handle(ev, nil)
}

func (c *Coordinator) handle(ev models.WatchEvent, done func()) {
	key := c.norm.Normalize(ev.Path)
	c.gens[key]++
	gen := c.gens[key]

	if ev.Kind == models.EventUnlink {
		c.unlink(ev.Path, key)
		finish(done)
		return
	}

	// A change to a path the rescanner just touched is only an echo when the
	// content is what the index already holds.
	cascade := ev.Kind == models.EventChange && c.tracker != nil && c.tracker.WasRecentlyProcessed(ev.Path, ev.At)

	path := ev.Path
	c.exec.Go(func() {
		meta, err := c.parse(path)
		echo := err == nil && cascade && c.indexed(meta)
		c.exec.Post(func() {
			defer finish(done)
			if c.gens[key] != gen {
				c.logger.Debug("coordinator: dropped stale parse", slog.String("path", path))
				return
			}
			if err != nil {
				c.logger.Warn("coordinator: parse failed", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			if echo {
				c.logger.Debug("coordinator: skipped cascade echo", slog.String("path", path))
				return
			}
			c.apply(ev.Kind, key, meta)
		})
	})
}

// indexed reports whether the index already holds meta's exact content. It
// runs off the loop.
func (c *Coordinator) indexed(meta *models.ScriptMetadata) bool {
	if c.db == nil || meta.Checksum == "" {
		return false
	}
	stored, err := c.db.GetChecksum(meta.FilePath)
	return err == nil && stored == meta.Checksum
}

func finish(done func()) {
	if done != nil {
		done()
	}
}

func (c *Coordinator) apply(kind models.EventKind, key string, meta *models.ScriptMetadata) {
	path := meta.FilePath

	if err := c.regs.RegisterAll(path, meta); err != nil {
		c.logger.Warn("coordinator: register failed", slog.String("path", path), slog.String("error", err.Error()))
	}

	if c.db != nil {
		exists := func(string) bool { return false }
		if c.store != nil {
			exists = c.store.Exists
		}
		if err := index.IndexMetadata(c.db, meta, exists, c.now()); err != nil {
			c.logger.Warn("coordinator: index failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	if c.builder != nil && parser.NeedsBuild(path) {
		c.sched.Schedule("build:"+key, c.timings.Build, func() { c.build(path) })
	}

	first := !c.seen[key]
	c.seen[key] = true
	if first && c.ready && c.bins != nil && !meta.IsTextSnippet {
		c.sched.Schedule("bin:"+key, c.timings.Bin, func() { c.writeBin(path) })
	}

	if kind == models.EventChange {
		c.notify.ScriptChanged(path)
		if c.previews != nil {
			c.previews.Invalidate(path)
		}
		if c.rescan != nil {
			c.rescan.Schedule(path)
		}
	}

	c.logger.Debug("coordinator: registered",
		slog.String("path", path),
		slog.String("op", kind.String()),
	)
}

func (c *Coordinator) build(path string) {
	c.exec.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.builder.Build(ctx, path); err != nil {
			c.logger.Warn("coordinator: build failed", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		c.logger.Debug("coordinator: built", slog.String("path", path))
	})
}

func (c *Coordinator) writeBin(path string) {
	c.exec.Go(func() {
		if err := c.bins.Write(path); err != nil {
			c.logger.Warn("coordinator: bin stub failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	})
}

func (c *Coordinator) unlink(path, key string) {
	c.regs.UnregisterAll(path)
	c.sched.Cancel("build:" + key)
	c.sched.Cancel("bin:" + key)
	delete(c.seen, key)

	if c.db != nil {
		if err := c.db.DeleteScript(path); err != nil {
			c.logger.Warn("coordinator: index delete failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	if c.previews != nil {
		c.previews.Invalidate(path)
	}
	if c.tracker != nil {
		c.tracker.Forget(path)
	}

	c.removeArtifacts(path)

	c.removed++
	c.notify.ScriptRemoved(path, c.removed)
	c.logger.Debug("coordinator: unregistered", slog.String("path", path))
}

func (c *Coordinator) removeArtifacts(path string) {
	var targets []string
	if c.bins != nil && !parser.IsTextSnippetPath(path) {
		targets = append(targets, c.bins.Path(path))
	}
	if c.builder != nil && parser.NeedsBuild(path) {
		targets = append(targets, c.builder.Output(path))
	}
	if len(targets) == 0 || c.store == nil {
		return
	}
	c.exec.Go(func() {
		for _, t := range targets {
			if err := c.store.Delete(t); err != nil {
				c.logger.Warn("coordinator: remove artifact failed", slog.String("path", t), slog.String("error", err.Error()))
			}
		}
	})
}

// Seed routes paths as add events and marks the coordinator ready once every
// parse has been applied. done is called on the loop afterwards.
func (c *Coordinator) Seed(paths []string, done func()) {
	remaining := len(paths)
	complete := func() {
		c.ready = true
		c.logger.Info("coordinator: ready", slog.Int("scripts", len(paths)))
		finish(done)
	}
	if remaining == 0 {
		complete()
		return
	}
	at := c.now()
	for _, p := range paths {
		c.handle(models.WatchEvent{Kind: models.EventAdd, Path: p, At: at}, func() {
			remaining--
			if remaining == 0 {
				complete()
			}
		})
	}
}

// Ready reports whether the initial scan has completed.
func (c *Coordinator) Ready() bool {
	return c.ready
}

// Removed returns the number of unlink notifications sent so far.
func (c *Coordinator) Removed() uint64 {
	return c.removed
}

// Close cancels pending debounced work.
func (c *Coordinator) Close() {
	c.sched.Close()
}
