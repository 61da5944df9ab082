package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/kitd/internal/loop"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/recent"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/storage"
	"github.com/starford/kitd/internal/testutil"
)

type notes struct {
	mu      sync.Mutex
	changed []string
	removed []uint64
	runs    []models.RunRequest
	users   []User
	apps    []AppConfig
}

func (n *notes) ScriptChanged(p string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, p)
}

func (n *notes) ScriptRemoved(_ string, c uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, c)
}

func (n *notes) RunRequested(r models.RunRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, r)
}

func (n *notes) UserChanged(u User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, u)
}

func (n *notes) AppConfigChanged(c AppConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.apps = append(n.apps, c)
}

func (n *notes) counts() (changed, removed, runs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changed), len(n.removed), len(n.runs)
}

type fakeBuilder struct {
	mu     sync.Mutex
	builds map[string]int
	outDir string
}

func (b *fakeBuilder) Build(_ context.Context, src string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds[src]++
	return nil
}

func (b *fakeBuilder) Output(src string) string {
	return filepath.Join(b.outDir, stem(src)+".js")
}

func (b *fakeBuilder) count(src string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds[src]
}

type env struct {
	t         *testing.T
	store     *storage.FS
	layout    storage.Layout
	loop      *loop.Loop
	shortcuts *registry.Shortcuts
	schedules *registry.Schedules
	snippets  *registry.Snippets
	regs      *registry.Set
	tracker   *recent.Tracker
	previews  *preview.Cache
	rescanner *Rescanner
	coord     *Coordinator
	router    *Router
	notes     *notes
	builder   *fakeBuilder
}

var fastTimings = Timings{Build: 20 * time.Millisecond, Bin: 20 * time.Millisecond, Rescan: 20 * time.Millisecond}

func newEnv(t *testing.T, parse ParseFunc) *env {
	t.Helper()
	logger := testutil.Logger()
	store := testutil.TestKenv(t)
	db := testutil.TestDB(t)
	lp := loop.New(64, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)
	t.Cleanup(func() {
		cancel()
		lp.Close()
	})

	n := &notes{}
	norm := pathnorm.Normalizer{}
	tracker := recent.NewTracker(recent.DefaultWindow, norm)
	previews, err := preview.New(16)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		t:        t,
		store:    store,
		layout:   store.Layout(),
		loop:     lp,
		tracker:  tracker,
		previews: previews,
		notes:    n,
		builder:  &fakeBuilder{builds: map[string]int{}, outDir: store.Layout().BuildDir()},
	}
	e.shortcuts = registry.NewShortcuts(nil, n.RunRequested, logger)
	e.schedules = registry.NewSchedules(n.RunRequested, logger)
	e.snippets = registry.NewSnippets(n.RunRequested, logger)
	e.regs = registry.NewSet(
		e.shortcuts,
		e.schedules,
		registry.NewSystems(n.RunRequested, logger),
		registry.NewWatches(nil, n.RunRequested, logger),
		registry.NewBackgrounds(&registry.EmitSupervisor{Emit: n.RunRequested}, logger),
		e.snippets,
	)
	e.rescanner = NewRescanner(lp, db, previews, tracker, norm, fastTimings.Rescan, logger)
	e.coord = NewCoordinator(CoordinatorConfig{
		Exec:       lp,
		Parse:      parse,
		Registries: e.regs,
		Index:      db,
		Store:      store,
		Previews:   previews,
		Rescanner:  e.rescanner,
		Tracker:    tracker,
		Normalizer: norm,
		Builder:    e.builder,
		Bins:       NewBinStubs(store, store.Layout()),
		Notifier:   n,
		Timings:    fastTimings,
		Logger:     logger,
	})
	t.Cleanup(e.coord.Close)
	t.Cleanup(e.rescanner.Close)
	e.router = NewRouter(RouterConfig{
		Exec:        lp,
		Layout:      store.Layout(),
		Coordinator: e.coord,
		Shortcuts:   e.shortcuts,
		Notifier:    n,
		Logger:      logger,
	})
	return e
}

func (e *env) script(name, content string) string {
	e.t.Helper()
	p := filepath.Join(e.layout.ScriptsDir(), name)
	testutil.WriteFile(e.t, p, content)
	return p
}

func (e *env) route(kind models.EventKind, path string) {
	e.loop.Post(func() {
		e.router.Route(models.WatchEvent{Kind: kind, Path: path, At: time.Now()})
	})
}

// on evaluates fn on the loop.
func (e *env) on(fn func() bool) bool {
	var ok bool
	if err := e.loop.Call(context.Background(), func() { ok = fn() }); err != nil {
		e.t.Fatalf("loop call: %v", err)
	}
	return ok
}

func (e *env) eventually(fn func() bool, msg string) {
	e.t.Helper()
	testutil.Eventually(e.t, 3*time.Second, 10*time.Millisecond, func() bool { return e.on(fn) }, msg)
}

// settle waits for queued loop work and in-flight parses to drain.
func (e *env) settle() {
	time.Sleep(50 * time.Millisecond)
	e.on(func() bool { return true })
}
