package scriptservice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/loop"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/pipeline"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/testutil"
)

type runRecorder struct {
	pipeline.NopNotifier
	mu   sync.Mutex
	runs []models.RunRequest
}

func (r *runRecorder) RunRequested(req models.RunRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, req)
}

func setup(t *testing.T) (*Service, *testutil.Fixture, *runRecorder) {
	t.Helper()
	fx := testutil.NewFixture(t)
	rec := &runRecorder{}
	svc := NewService(Config{
		Loop:       loop.Inline{},
		Index:      fx.DB,
		Store:      fx.Store,
		Registries: fx.Set,
		Shortcuts:  fx.Shortcuts,
		Snippets:   fx.Snippets,
		Systems:    fx.Systems,
		Previews:   fx.Previews,
		Notifier:   rec,
		Normalizer: pathnorm.Default(),
	})
	return svc, fx, rec
}

func TestGetScript_Detail(t *testing.T) {
	svc, fx, _ := setup(t)
	lib := fx.AddScript(t, "lib.js", "export const x = 1\n")
	app := fx.AddScript(t, "app.js", "// Name: App\n// Shortcut: cmd k\n// Snippet: ,,\nimport { x } from './lib.js'\n")

	d, err := svc.GetScript(context.Background(), lib)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if len(d.Dependents) != 1 || d.Dependents[0] != app {
		t.Errorf("dependents = %v, want [%s]", d.Dependents, app)
	}
	if len(d.Registered) != 0 {
		t.Errorf("lib registered = %v, want none", d.Registered)
	}

	d, err = svc.GetScript(context.Background(), app)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if d.Name != "App" {
		t.Errorf("name = %q", d.Name)
	}
	got := map[registry.Kind]bool{}
	for _, k := range d.Registered {
		got[k] = true
	}
	if !got[registry.KindShortcut] || !got[registry.KindSnippet] || len(got) != 2 {
		t.Errorf("registered = %v", d.Registered)
	}
	if !strings.Contains(d.Preview, "App") {
		t.Errorf("preview missing name:\n%s", d.Preview)
	}
	if fx.Previews.Len() != 1 {
		t.Errorf("preview cache len = %d, want 1", fx.Previews.Len())
	}
}

func TestGetScript_NotFound(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.GetScript(context.Background(), "/nope.js")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPreview_RerendersStaleChecksum(t *testing.T) {
	svc, fx, _ := setup(t)
	p := fx.AddScript(t, "a.js", "// Name: First\n")
	if _, err := svc.Preview(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	fx.AddScript(t, "a.js", "// Name: Second\n")
	e, err := svc.Preview(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(e.Body, "Second") {
		t.Errorf("preview not refreshed:\n%s", e.Body)
	}
}

func TestListAndSearch(t *testing.T) {
	svc, fx, _ := setup(t)
	fx.AddScript(t, "alpha.js", "// Name: Alpha\n// Description: greets people\n")
	fx.AddScript(t, "beta.js", "// Name: Beta\n")

	rows, total, err := svc.ListScripts(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(rows) != 2 || rows[0].Name != "Alpha" {
		t.Errorf("list = %d rows, total %d", len(rows), total)
	}

	res, err := svc.Search(context.Background(), "greets", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Name != "Alpha" {
		t.Errorf("search = %+v", res)
	}

	res, err = svc.Search(context.Background(), "zzz", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("empty search = %#v, want empty non-nil", res)
	}
}

func TestTriggers(t *testing.T) {
	svc, fx, _ := setup(t)
	p := fx.AddScript(t, "nightly.js", "// Schedule: 0 3 * * *\n")

	regs, err := svc.Triggers(context.Background(), registry.KindSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 || regs[0].Path != p || regs[0].Value != "0 3 * * *" {
		t.Errorf("schedules = %+v", regs)
	}

	if _, err := svc.Triggers(context.Background(), "bogus"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestMatchSnippetAndFireSystem(t *testing.T) {
	svc, fx, _ := setup(t)
	p := fx.AddScript(t, "wake.js", "// System: resume\n// Snippet: ;wk\n")

	ms, err := svc.MatchSnippet(context.Background(), "hello;wk")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].FilePath != p {
		t.Errorf("match = %+v", ms)
	}

	n, err := svc.FireSystem(context.Background(), "resume")
	if err != nil || n != 1 {
		t.Fatalf("FireSystem = %d, %v", n, err)
	}
	runs := fx.Runs.All()
	if len(runs) != 1 || runs[0].Trigger != models.TriggerSystem || runs[0].Script != p {
		t.Errorf("runs = %+v", runs)
	}

	if _, err := svc.FireSystem(context.Background(), "reboot"); !errors.Is(err, apperr.ErrInvalidTrigger) {
		t.Errorf("unknown event err = %v", err)
	}
}

func TestRun(t *testing.T) {
	svc, fx, rec := setup(t)
	p := fx.AddScript(t, "go.js", "// Name: Go\n")

	req, err := svc.Run(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if req.ID == "" || req.Trigger != models.TriggerAPI || req.Args == nil {
		t.Errorf("req = %+v", req)
	}
	if len(rec.runs) != 1 || rec.runs[0].ID != req.ID {
		t.Errorf("notified = %+v", rec.runs)
	}

	if _, err := svc.Run(context.Background(), "/missing.js", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestRun_NotReady(t *testing.T) {
	fx := testutil.NewFixture(t)
	svc := NewService(Config{Loop: loop.Inline{}, Index: fx.DB, Store: fx.Store, Ready: func() bool { return false }})
	if _, err := svc.Run(context.Background(), "/x.js", nil); !errors.Is(err, apperr.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestPressShortcut(t *testing.T) {
	svc, fx, _ := setup(t)
	p := fx.AddScript(t, "k.js", "// Shortcut: ctrl shift k\n")

	got, err := svc.PressShortcut(context.Background(), "shift+ctrl+k")
	if err != nil {
		t.Fatalf("PressShortcut: %v", err)
	}
	if got != p {
		t.Errorf("owner = %q, want %q", got, p)
	}
	if runs := fx.Runs.All(); len(runs) != 1 || runs[0].Script != p {
		t.Errorf("runs = %+v", runs)
	}

	if _, err := svc.PressShortcut(context.Background(), "ctrl j"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unbound err = %v, want ErrNotFound", err)
	}
	if _, err := svc.PressShortcut(context.Background(), "shift"); !errors.Is(err, apperr.ErrInvalidTrigger) {
		t.Errorf("modifier-only err = %v, want ErrInvalidTrigger", err)
	}
}

func TestStatus_WithRouterState(t *testing.T) {
	fx := testutil.NewFixture(t)
	router := pipeline.NewRouter(pipeline.RouterConfig{Exec: loop.Inline{}, Layout: fx.Store.Layout()})
	router.State().Env["B"] = "2"
	router.State().Env["A"] = "1"
	router.State().User = pipeline.User{Login: "octo"}
	svc := NewService(Config{
		Loop:       loop.Inline{},
		Index:      fx.DB,
		Store:      fx.Store,
		Registries: fx.Set,
		Shortcuts:  fx.Shortcuts,
		Router:     router,
	})

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(st.EnvKeys) != 2 || st.EnvKeys[0] != "A" || st.EnvKeys[1] != "B" {
		t.Errorf("env keys = %v", st.EnvKeys)
	}
	if st.User.Login != "octo" || !st.Ready {
		t.Errorf("status = %+v", st)
	}
}
