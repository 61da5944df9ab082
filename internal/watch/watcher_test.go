package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/storage"
	"github.com/starford/kitd/internal/testutil"
)

type collector struct {
	mu     sync.Mutex
	events []models.WatchEvent
}

func (c *collector) add(ev models.WatchEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) has(kind models.EventKind, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Kind == kind && ev.Path == path {
			return true
		}
	}
	return false
}

func (c *collector) any(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Path == path {
			return true
		}
	}
	return false
}

func startWatch(t *testing.T, layout storage.Layout) *collector {
	t.Helper()
	c := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Watch(ctx, layout, testutil.Logger(), c.add) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	time.Sleep(100 * time.Millisecond)
	return c
}

func TestWatch_MissingScriptsDirIsFatal(t *testing.T) {
	dir := t.TempDir()
	layout := storage.Layout{KenvPath: filepath.Join(dir, "kenv"), KitPath: filepath.Join(dir, "kit")}
	if err := Watch(context.Background(), layout, testutil.Logger(), func(models.WatchEvent) {}); err == nil {
		t.Fatal("expected error when scripts dir is missing")
	}
}

func TestWatch_ScriptLifecycle(t *testing.T) {
	store := testutil.TestKenv(t)
	l := store.Layout()
	c := startWatch(t, l)

	p := filepath.Join(l.ScriptsDir(), "new.js")
	testutil.WriteFile(t, p, "// Name: New\n")
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventAdd, p)
	}, "add not reported")

	_ = os.WriteFile(p, []byte("// Name: Changed\n"), 0o644)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventChange, p)
	}, "change not reported")

	_ = os.Remove(p)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventUnlink, p)
	}, "unlink not reported")
}

func TestWatch_RenameOverExistingIsChange(t *testing.T) {
	store := testutil.TestKenv(t)
	l := store.Layout()
	p := filepath.Join(l.ScriptsDir(), "s.js")
	testutil.WriteFile(t, p, "// Name: S\n")
	c := startWatch(t, l)

	tmp := filepath.Join(l.ScriptsDir(), ".s.js.swp")
	testutil.WriteFile(t, tmp, "// Name: Saved\n")
	if err := os.Rename(tmp, p); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventChange, p)
	}, "atomic save not reported as change")
	if c.has(models.EventAdd, p) {
		t.Error("atomic save of a known script reported as add")
	}
}

func TestWatch_IgnoresUnrelatedFiles(t *testing.T) {
	store := testutil.TestKenv(t)
	l := store.Layout()
	c := startWatch(t, l)

	notes := filepath.Join(l.ScriptsDir(), "notes.md")
	testutil.WriteFile(t, notes, "hello")
	marker := filepath.Join(l.ScriptsDir(), "marker.js")
	testutil.WriteFile(t, marker, "")

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.any(marker)
	}, "marker not reported")
	if c.any(notes) {
		t.Error("non-script file should be ignored")
	}
}

func TestWatch_StateFiles(t *testing.T) {
	store := testutil.TestKenv(t)
	l := store.Layout()
	if err := os.MkdirAll(l.KitPath, 0o755); err != nil {
		t.Fatal(err)
	}
	c := startWatch(t, l)

	testutil.WriteFile(t, l.RunFile(), "/x.js a b\n")
	testutil.WriteFile(t, l.AppFile(), "{}")
	testutil.WriteFile(t, l.EnvFile(), "A=1\n")

	for _, p := range []string{l.RunFile(), l.AppFile(), l.EnvFile()} {
		p := p
		testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
			return c.any(p)
		}, "state file not reported: "+p)
	}
	other := filepath.Join(filepath.Dir(l.AppFile()), "other.json")
	testutil.WriteFile(t, other, "{}")
	time.Sleep(200 * time.Millisecond)
	if c.any(other) {
		t.Error("unknown db file should be ignored")
	}
}

func TestWatch_KenvDiscovery(t *testing.T) {
	store := testutil.TestKenv(t)
	l := store.Layout()
	if err := os.MkdirAll(l.KenvsDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	c := startWatch(t, l)

	if err := os.MkdirAll(filepath.Join(l.KenvsDir(), "work"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	scriptsDir := filepath.Join(l.KenvsDir(), "work", "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	p := filepath.Join(scriptsDir, "w.js")
	testutil.WriteFile(t, p, "// Name: W\n")
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.any(p)
	}, "script in new kenv not reported")

	if err := os.RemoveAll(filepath.Join(l.KenvsDir(), "work")); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return c.has(models.EventUnlink, p)
	}, "removing the kenv should unlink its scripts")
}
