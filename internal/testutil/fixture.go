package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/storage"
)

// Runs collects run requests emitted by registries.
type Runs struct {
	mu   sync.Mutex
	reqs []models.RunRequest
}

// Emit records req.
func (r *Runs) Emit(req models.RunRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

// All returns a copy of the recorded requests.
func (r *Runs) All() []models.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RunRequest(nil), r.reqs...)
}

// Fixture is a kenv with an index and a full set of registries, driven
// synchronously from the test goroutine.
type Fixture struct {
	Store     *storage.FS
	DB        *index.DB
	Set       *registry.Set
	Shortcuts *registry.Shortcuts
	Snippets  *registry.Snippets
	Systems   *registry.Systems
	Previews  *preview.Cache
	Runs      *Runs
}

// NewFixture creates an empty fixture.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	runs := &Runs{}
	emit := registry.Emitter(runs.Emit)
	logger := Logger()

	previews, err := preview.New(16)
	if err != nil {
		t.Fatal(err)
	}
	shortcuts := registry.NewShortcuts(nil, emit, logger)
	snippets := registry.NewSnippets(emit, logger)
	systems := registry.NewSystems(emit, logger)
	schedules := registry.NewSchedules(emit, logger)
	set := registry.NewSet(
		shortcuts,
		schedules,
		systems,
		registry.NewWatches(nil, emit, logger),
		registry.NewBackgrounds(&registry.EmitSupervisor{Emit: emit}, logger),
		snippets,
	)
	t.Cleanup(func() { schedules.Stop() })

	return &Fixture{
		Store:     TestKenv(t),
		DB:        TestDB(t),
		Set:       set,
		Shortcuts: shortcuts,
		Snippets:  snippets,
		Systems:   systems,
		Previews:  previews,
		Runs:      runs,
	}
}

// AddScript writes a script under the scripts directory, indexes it and
// registers its triggers. It returns the absolute path.
func (f *Fixture) AddScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.Store.Layout().ScriptsDir(), name)
	WriteFile(t, path, content)

	meta, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}
	if err := index.IndexMetadata(f.DB, meta, exists, time.Now()); err != nil {
		t.Fatalf("index %s: %v", name, err)
	}
	_ = f.Set.RegisterAll(path, meta)
	return path
}
