// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/kitd/internal/api"
	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/loop"
	"github.com/starford/kitd/internal/mcpserver"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/pipeline"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/recent"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/scriptservice"
	"github.com/starford/kitd/internal/sse"
	"github.com/starford/kitd/internal/storage"
	"github.com/starford/kitd/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logOutput == nil {
		app.logOutput = os.Stdout
	}
	return app, nil
}

// newLogger builds the JSON logger. A configured log file is rotated by
// lumberjack; otherwise logs go to out.
func newLogger(cfg ApplicationConfig, out io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out, closer = lj, lj
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func normalizer(cfg WatcherConfig) pathnorm.Normalizer {
	n := pathnorm.Default()
	if cfg.CaseSensitive != nil {
		n.FoldCase = !*cfg.CaseSensitive
	}
	return n
}

// runEmitter hands run requests straight to n. Registries emit both from the
// loop (system events, shortcut presses, auto backgrounds) and from cron and
// glob goroutines, so n must be safe for concurrent use and must never post
// back to the loop.
func runEmitter(n pipeline.Notifier) registry.Emitter {
	return n.RunRequested
}

// kernel is the set of loop-owned components shared by the daemon and the
// MCP server.
type kernel struct {
	loop      *loop.Loop
	set       *registry.Set
	schedules *registry.Schedules
	shortcuts *registry.Shortcuts
	snippets  *registry.Snippets
	systems   *registry.Systems
	previews  *preview.Cache
	norm      pathnorm.Normalizer
}

func newKernel(app *application, emit registry.Emitter, globs registry.GlobWatcherFactory, logger *slog.Logger) (*kernel, error) {
	cfg := app.config
	previews, err := preview.New(cfg.Watcher.PreviewCache)
	if err != nil {
		return nil, err
	}
	sup := app.supervisor
	if sup == nil {
		sup = &registry.EmitSupervisor{Emit: emit}
	}

	k := &kernel{
		loop:      loop.New(cfg.Watcher.LoopBufferSize, logger),
		schedules: registry.NewSchedules(emit, logger),
		shortcuts: registry.NewShortcuts(app.binder, emit, logger),
		snippets:  registry.NewSnippets(emit, logger),
		systems:   registry.NewSystems(emit, logger),
		previews:  previews,
		norm:      normalizer(cfg.Watcher),
	}
	k.set = registry.NewSet(
		k.shortcuts,
		k.schedules,
		k.systems,
		registry.NewWatches(globs, emit, logger),
		registry.NewBackgrounds(sup, logger),
		k.snippets,
	)
	if err := k.shortcuts.SetMain(pipeline.DefaultMainShortcut); err != nil {
		logger.Warn("shortcut: default main rejected", slog.String("error", err.Error()))
	}
	return k, nil
}

func openStores(cfg *Config) (*storage.FS, *index.DB, error) {
	layout := cfg.Kit.Layout()
	for _, dir := range []string{layout.ScriptsDir(), filepath.Dir(cfg.SQLite.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	store, err := storage.NewFS(layout)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}
	return store, db, nil
}

// Run starts the daemon with the given options and blocks until ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, logCloser := newLogger(cfg.App, app.logOutput)
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("kenv_path", cfg.Kit.KenvPath),
		slog.String("kit_path", cfg.Kit.KitPath),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, db, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	layout := store.Layout()

	// SSE broker doubles as the pipeline notifier.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	k, err := newKernel(app, runEmitter(broker), watch.NewGlobFactory(logger), logger)
	if err != nil {
		return err
	}
	lp := k.loop
	defer lp.Close()

	tracker := recent.NewTracker(cfg.Watcher.RecentWindow, k.norm)
	timings := cfg.Watcher.Timings()
	rescanner := pipeline.NewRescanner(lp, db, k.previews, tracker, k.norm, timings.Rescan, logger)
	defer rescanner.Close()
	rescanner.OnRescan(broker.Rescanned)

	var builder pipeline.Builder
	if cfg.Kit.Build.Command != "" {
		builder = pipeline.CommandBuilder{
			Command: cfg.Kit.Build.Command,
			Args:    cfg.Kit.Build.Args,
			OutDir:  layout.BuildDir(),
		}
	}

	coord := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Exec:       lp,
		Registries: k.set,
		Index:      db,
		Store:      store,
		Previews:   k.previews,
		Rescanner:  rescanner,
		Tracker:    tracker,
		Normalizer: k.norm,
		Builder:    builder,
		Bins:       pipeline.NewBinStubs(store, layout),
		Notifier:   broker,
		Timings:    timings,
		Logger:     logger,
	})
	defer coord.Close()

	var sponsor pipeline.SponsorChecker
	if cfg.Kit.SponsorURL != "" {
		sponsor = pipeline.HTTPSponsorChecker{URL: cfg.Kit.SponsorURL}
	}
	router := pipeline.NewRouter(pipeline.RouterConfig{
		Exec:        lp,
		Layout:      layout,
		Coordinator: coord,
		Shortcuts:   k.shortcuts,
		Sponsor:     sponsor,
		Notifier:    broker,
		Logger:      logger,
	})

	var ready atomic.Bool
	svc := scriptservice.NewService(scriptservice.Config{
		Loop:        lp,
		Index:       db,
		Store:       store,
		Registries:  k.set,
		Shortcuts:   k.shortcuts,
		Snippets:    k.snippets,
		Systems:     k.systems,
		Previews:    k.previews,
		Notifier:    broker,
		Normalizer:  k.norm,
		Router:      router,
		Coordinator: coord,
		Ready:       ready.Load,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	api.MountHealth(r, svc)

	// Mount API routes under /api; the SSE stream shares its auth.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	// Event loop.
	g.Go(func() error {
		return lp.Run(gCtx)
	})

	// File watcher; every event is routed on the loop.
	g.Go(func() error {
		err := watch.Watch(gCtx, layout, logger, func(ev models.WatchEvent) {
			lp.Post(func() { router.Route(ev) })
		})
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

	// Initial scan, then start the scheduler.
	g.Go(func() error {
		if err := pipeline.InitialScan(gCtx, lp, store, db, coord, logger); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		ready.Store(true)
		k.schedules.Start()
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		logger.Info("Shutting down server...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		<-k.schedules.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunScan performs a one-shot index sync of the kenv and returns the number
// of indexed scripts.
func RunScan(_ context.Context, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	logger, logCloser := newLogger(app.config.App, app.logOutput)
	defer logCloser.Close()

	store, db, err := openStores(app.config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	if err := index.Sync(db, store, logger); err != nil {
		return 0, fmt.Errorf("sync: %w", err)
	}
	_, total, err := db.ListScripts("", 1, 0)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// RunMCP serves the MCP tools over stdio. Registries are loaded once from the
// scripts on disk; nothing is watched and no trigger fires.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger, logCloser := newLogger(app.config.App, app.logOutput)
	defer logCloser.Close()
	slog.SetDefault(logger)

	store, db, err := openStores(app.config)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	nop := registry.Emitter(func(models.RunRequest) {})
	k, err := newKernel(app, nop, nil, logger)
	if err != nil {
		return err
	}
	registerFromDisk(k.set, store, logger)

	svc := scriptservice.NewService(scriptservice.Config{
		Loop:       loop.Inline{},
		Index:      db,
		Store:      store,
		Registries: k.set,
		Shortcuts:  k.shortcuts,
		Snippets:   k.snippets,
		Systems:    k.systems,
		Previews:   k.previews,
		Normalizer: k.norm,
	})
	return mcpserver.New(svc).ServeStdio()
}

// registerFromDisk parses every script once and registers its triggers.
func registerFromDisk(set *registry.Set, store storage.Provider, logger *slog.Logger) {
	files, err := store.List()
	if err != nil {
		logger.Warn("list scripts failed", slog.String("error", err.Error()))
		return
	}
	for _, f := range files {
		meta, err := parser.ParseFile(f.Path)
		if err != nil {
			logger.Warn("parse failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if err := set.RegisterAll(f.Path, meta); err != nil {
			logger.Warn("register failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
}
