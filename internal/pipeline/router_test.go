package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/testutil"
)

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"/kit/run.txt":                RouteRun,
		"/kenv/.env":                  RouteEnv,
		"/kit/db/app.json":            RouteApp,
		"/kit/db/user.json":           RouteUser,
		"/kit/db/shortcuts.json":      RouteShortcuts,
		"/kenv/scripts/a.ts":          RouteScript,
		"/kenv/snippets/sig.txt":      RouteScript,
		"/kenv/scripts/notes.txt":     RouteIgnore,
		"/kenv/scripts/readme.md":     RouteIgnore,
		"/kenv/kenvs/w/scripts/b.mjs": RouteScript,
	}
	for path, want := range cases {
		if got := Classify(path); got != want {
			t.Errorf("Classify(%s) = %s, want %s", path, got, want)
		}
	}
}

func TestParseRunLine(t *testing.T) {
	script, args, ok := ParseRunLine([]byte("  /k/scripts/a.js  one \"two three\"\nignored line\n"))
	if !ok || script != "/k/scripts/a.js" {
		t.Fatalf("script = %q, ok = %v", script, ok)
	}
	want := []string{"one", `"two`, `three"`}
	if len(args) != len(want) {
		t.Fatalf("args = %q", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
	if _, _, ok := ParseRunLine([]byte("\n")); ok {
		t.Error("blank first line should be ignored")
	}
	if _, _, ok := ParseRunLine(nil); ok {
		t.Error("empty file should be ignored")
	}
}

func TestRouter_RunFile(t *testing.T) {
	e := newEnv(t, nil)
	testutil.WriteFile(t, e.layout.RunFile(), "hello.js a b\n")

	e.route(models.EventChange, e.layout.RunFile())
	e.eventually(func() bool { _, _, runs := e.notes.counts(); return runs == 1 }, "run request not emitted")

	e.notes.mu.Lock()
	req := e.notes.runs[0]
	e.notes.mu.Unlock()
	if req.Script != filepath.Join(e.layout.ScriptsDir(), "hello.js") || !req.Force || req.Trigger != models.TriggerKit {
		t.Errorf("request = %+v", req)
	}
	if len(req.Args) != 2 || req.Args[1] != "b" || req.ID == "" {
		t.Errorf("request = %+v", req)
	}

	// Unlink of run.txt does nothing.
	e.route(models.EventUnlink, e.layout.RunFile())
	e.settle()
	if _, _, runs := e.notes.counts(); runs != 1 {
		t.Errorf("runs = %d", runs)
	}
}

func TestRouter_EnvFile(t *testing.T) {
	e := newEnv(t, nil)
	testutil.WriteFile(t, e.layout.EnvFile(), "KIT_EDITOR=code\n# comment\nTOKEN=\"abc def\"\n")

	e.route(models.EventAdd, e.layout.EnvFile())
	e.eventually(func() bool {
		env := e.router.State().Env
		return env["KIT_EDITOR"] == "code" && env["TOKEN"] == "abc def"
	}, "env not loaded")

	e.route(models.EventUnlink, e.layout.EnvFile())
	e.eventually(func() bool { return len(e.router.State().Env) == 0 }, "env not cleared")
}

func TestRouter_AppFileMerges(t *testing.T) {
	e := newEnv(t, nil)
	testutil.WriteFile(t, e.layout.AppFile(), `{"theme":"dark","tray":true}`)
	e.route(models.EventChange, e.layout.AppFile())
	e.eventually(func() bool { return e.router.State().App["theme"] == "dark" }, "app config not loaded")

	testutil.WriteFile(t, e.layout.AppFile(), `{"theme":"light"}`)
	e.route(models.EventChange, e.layout.AppFile())
	e.eventually(func() bool {
		app := e.router.State().App
		return app["theme"] == "light" && app["tray"] == true
	}, "app config should merge, not replace")

	// Broken JSON is logged and ignored.
	testutil.WriteFile(t, e.layout.AppFile(), `{"theme":`)
	e.route(models.EventChange, e.layout.AppFile())
	e.settle()
	if e.router.State().App["theme"] != "light" {
		t.Error("invalid app.json changed state")
	}

	e.notes.mu.Lock()
	defer e.notes.mu.Unlock()
	if len(e.notes.apps) != 2 {
		t.Errorf("app notifications = %d, want 2", len(e.notes.apps))
	}
}

type sponsorStub struct {
	ok  bool
	err error
}

func (s sponsorStub) IsSponsor(context.Context, string) (bool, error) { return s.ok, s.err }

func TestRouter_UserFile(t *testing.T) {
	e := newEnv(t, nil)
	e.router.sponsor = sponsorStub{ok: true}
	testutil.WriteFile(t, e.layout.UserFile(), `{"login":"octo","name":"Octo Cat"}`)

	e.route(models.EventChange, e.layout.UserFile())
	e.eventually(func() bool { return e.router.State().User.Sponsor }, "user not loaded")

	e.route(models.EventUnlink, e.layout.UserFile())
	e.eventually(func() bool { return e.router.State().User.Login == "" }, "user not cleared")

	e.notes.mu.Lock()
	defer e.notes.mu.Unlock()
	if len(e.notes.users) != 2 || e.notes.users[0].Login != "octo" {
		t.Errorf("user notifications = %+v", e.notes.users)
	}
}

func TestRouter_UserFileSponsorError(t *testing.T) {
	e := newEnv(t, nil)
	e.router.sponsor = sponsorStub{err: errors.New("offline")}
	testutil.WriteFile(t, e.layout.UserFile(), `{"login":"octo"}`)

	e.route(models.EventChange, e.layout.UserFile())
	e.eventually(func() bool { return e.router.State().User.Login == "octo" }, "user should load without sponsor status")
	if e.router.State().User.Sponsor {
		t.Error("sponsor should be false when the check fails")
	}
}

func TestRouter_ShortcutsFile(t *testing.T) {
	e := newEnv(t, nil)
	testutil.WriteFile(t, e.layout.ShortcutsFile(), `{"shortcuts":{"main":"ctrl space"}}`)

	e.route(models.EventChange, e.layout.ShortcutsFile())
	e.eventually(func() bool { return e.shortcuts.Main() == "Ctrl+Space" }, "main shortcut not set")

	testutil.WriteFile(t, e.layout.ShortcutsFile(), `{"shortcuts":{}}`)
	e.route(models.EventChange, e.layout.ShortcutsFile())
	e.eventually(func() bool { return e.shortcuts.Main() == "Cmd+;" }, "missing main should fall back to the default")

	testutil.WriteFile(t, e.layout.ShortcutsFile(), `{"shortcuts":{"main":"nope"}}`)
	e.route(models.EventChange, e.layout.ShortcutsFile())
	e.settle()
	if e.shortcuts.Main() != "Cmd+;" {
		t.Error("invalid main shortcut replaced the current one")
	}
}

func TestRouter_IgnoresUnknownFiles(t *testing.T) {
	e := newEnv(t, nil)
	p := filepath.Join(e.layout.ScriptsDir(), "notes.md")
	testutil.WriteFile(t, p, "// Shortcut: cmd+n\n")
	e.route(models.EventAdd, p)
	e.settle()
	if len(e.regs.Registered(p)) != 0 {
		t.Error("non-script file was routed to the coordinator")
	}
}

func TestHTTPSponsorChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("login") == "octo" {
			_, _ = w.Write([]byte(`{"sponsor":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"sponsor":false}`))
	}))
	defer srv.Close()

	c := HTTPSponsorChecker{URL: srv.URL + "/check"}
	ok, err := c.IsSponsor(context.Background(), "octo")
	if err != nil || !ok {
		t.Errorf("octo: %v, %v", ok, err)
	}
	ok, err = c.IsSponsor(context.Background(), "other")
	if err != nil || ok {
		t.Errorf("other: %v, %v", ok, err)
	}
}

var _ MainShortcutSetter = (*registry.Shortcuts)(nil)
