package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/loop"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/testutil"
)

func TestInitialScan(t *testing.T) {
	store := testutil.TestKenv(t)
	db := testutil.TestDB(t)
	l := store.Layout()
	logger := testutil.Logger()

	testutil.WriteFile(t, filepath.Join(l.ScriptsDir(), "a.js"), "// Shortcut: cmd+1\n")
	testutil.WriteFile(t, filepath.Join(l.SnippetsDir(), "sig.txt"), "# Snippet: *sig;\nBest,\nMe\n")
	testutil.WriteFile(t, filepath.Join(l.KenvsDir(), "work", "scripts", "w.js"), "// Schedule: @daily\n")
	stale := filepath.Join(l.ScriptsDir(), "stale.js")
	_ = db.UpsertScript(index.ScriptRow{Path: stale, Checksum: "x", UpdatedAt: time.Now()}, nil)

	shortcuts := registry.NewShortcuts(nil, nil, logger)
	schedules := registry.NewSchedules(nil, logger)
	snippets := registry.NewSnippets(nil, logger)
	coord := NewCoordinator(CoordinatorConfig{
		Exec:       loop.Inline{},
		Registries: registry.NewSet(shortcuts, schedules, snippets),
		Index:      db,
		Store:      store,
		Normalizer: pathnorm.Normalizer{},
		Timings:    fastTimings,
		Logger:     logger,
	})
	defer coord.Close()

	if err := InitialScan(context.Background(), loop.Inline{}, store, db, coord, logger); err != nil {
		t.Fatalf("InitialScan: %v", err)
	}
	if !coord.Ready() {
		t.Error("coordinator should be ready")
	}
	if !shortcuts.Has(filepath.Join(l.ScriptsDir(), "a.js")) {
		t.Error("root script not registered")
	}
	if !schedules.Has(filepath.Join(l.KenvsDir(), "work", "scripts", "w.js")) {
		t.Error("kenv script not registered")
	}
	entries := snippets.Entries()
	if len(entries) != 1 || !entries[0].IsTextSnippet || !entries[0].IsPostfix {
		t.Errorf("snippets = %+v", entries)
	}
	if _, err := db.GetScript(stale); err == nil {
		t.Error("stale index row should be removed")
	}
	rows, total, _ := db.ListScripts("work", 10, 0)
	if total != 1 || rows[0].Kenv != "work" {
		t.Errorf("kenv rows = %+v", rows)
	}
}

func TestInitialScan_Empty(t *testing.T) {
	store := testutil.TestKenv(t)
	coord := NewCoordinator(CoordinatorConfig{
		Exec:       loop.Inline{},
		Registries: registry.NewSet(),
		Logger:     testutil.Logger(),
	})
	defer coord.Close()
	if err := InitialScan(context.Background(), loop.Inline{}, store, nil, coord, testutil.Logger()); err != nil {
		t.Fatal(err)
	}
	if !coord.Ready() {
		t.Error("empty scan should still mark ready")
	}
}
