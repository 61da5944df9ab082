package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/storage"
)

// DefaultMainShortcut opens the main prompt when shortcuts.json names none.
const DefaultMainShortcut = "cmd ;"

// MainShortcutSetter binds the main prompt shortcut.
type MainShortcutSetter interface {
	SetMain(accel string) error
}

// Route classes, in classification order.
const (
	RouteRun       = "run"
	RouteEnv       = "env"
	RouteApp       = "app"
	RouteUser      = "user"
	RouteShortcuts = "shortcuts"
	RouteScript    = "script"
	RouteIgnore    = "ignore"
)

// Classify returns the handler class of path. The first match wins.
func Classify(path string) string {
	switch filepath.Base(path) {
	case "run.txt":
		return RouteRun
	case ".env":
		return RouteEnv
	case "app.json":
		return RouteApp
	case "user.json":
		return RouteUser
	case "shortcuts.json":
		return RouteShortcuts
	}
	if parser.IsScript(path) {
		return RouteScript
	}
	return RouteIgnore
}

// Router dispatches each classified event to exactly one handler. Handler
// failures are logged and never propagate.
type Router struct {
	exec      Executor
	layout    storage.Layout
	coord     *Coordinator
	state     *State
	shortcuts MainShortcutSetter
	sponsor   SponsorChecker
	notify    Notifier
	logger    *slog.Logger
}

// RouterConfig wires a Router. Shortcuts and Sponsor may be nil.
type RouterConfig struct {
	Exec        Executor
	Layout      storage.Layout
	Coordinator *Coordinator
	State       *State
	Shortcuts   MainShortcutSetter
	Sponsor     SponsorChecker
	Notifier    Notifier
	Logger      *slog.Logger
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.State == nil {
		cfg.State = NewState()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		exec:      cfg.Exec,
		layout:    cfg.Layout,
		coord:     cfg.Coordinator,
		state:     cfg.State,
		shortcuts: cfg.Shortcuts,
		sponsor:   cfg.Sponsor,
		notify:    cfg.Notifier,
		logger:    cfg.Logger,
	}
}

// State returns the loop-owned shared state.
func (r *Router) State() *State {
	return r.state
}

// Route handles one event. It must run on the loop.
func (r *Router) Route(ev models.WatchEvent) {
	class := Classify(ev.Path)
	r.logger.Debug("router: event",
		slog.String("path", ev.Path),
		slog.String("op", ev.Kind.String()),
		slog.String("class", class),
	)

	switch class {
	case RouteRun:
		if ev.Kind != models.EventUnlink {
			r.readThen(ev.Path, r.handleRun)
		}
	case RouteEnv:
		r.handleEnv(ev)
	case RouteApp:
		if ev.Kind != models.EventUnlink {
			r.readThen(ev.Path, r.handleApp)
		}
	case RouteUser:
		r.handleUser(ev)
	case RouteShortcuts:
		if ev.Kind == models.EventUnlink {
			r.setMain(DefaultMainShortcut)
		} else {
			r.readThen(ev.Path, r.handleShortcuts)
		}
	case RouteScript:
		r.coord.Handle(ev)
	}
}

// readThen reads path off the loop and hands the contents to fn on the loop.
func (r *Router) readThen(path string, fn func(path string, data []byte) error) {
	r.exec.Go(func() {
		data, err := os.ReadFile(path)
		r.exec.Post(func() {
			if err != nil {
				r.logger.Warn("router: read failed", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			if err := fn(path, data); err != nil {
				r.logger.Warn("router: handler failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		})
	})
}

// ParseRunLine splits the first line of run.txt into a script path and its
// arguments. Arguments are split on whitespace with no quoting.
func ParseRunLine(data []byte) (string, []string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return "", nil, false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

func (r *Router) handleRun(_ string, data []byte) error {
	script, args, ok := ParseRunLine(data)
	if !ok {
		return nil
	}
	if !filepath.IsAbs(script) {
		script = filepath.Join(r.layout.ScriptsDir(), script)
	}
	if args == nil {
		args = []string{}
	}
	req := models.RunRequest{
		ID:      uuid.NewString(),
		Script:  script,
		Args:    args,
		Trigger: models.TriggerKit,
		Force:   true,
	}
	r.logger.Info("router: run requested", slog.String("script", script), slog.String("id", req.ID))
	r.notify.RunRequested(req)
	return nil
}

func (r *Router) handleEnv(ev models.WatchEvent) {
	if ev.Kind == models.EventUnlink {
		r.state.Env = map[string]string{}
		r.logger.Info("router: env cleared")
		return
	}
	path := ev.Path
	r.exec.Go(func() {
		env, err := godotenv.Read(path)
		r.exec.Post(func() {
			if err != nil {
				r.logger.Warn("router: env parse failed", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			r.state.Env = env
			r.logger.Info("router: env loaded", slog.Int("vars", len(env)))
		})
	})
}

func (r *Router) handleApp(_ string, data []byte) error {
	var incoming AppConfig
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("decode app.json: %w", err)
	}
	for k, v := range incoming {
		r.state.App[k] = v
	}
	r.notify.AppConfigChanged(r.state.Snapshot().App)
	return nil
}

func (r *Router) handleUser(ev models.WatchEvent) {
	if ev.Kind == models.EventUnlink {
		r.state.User = User{}
		r.notify.UserChanged(User{})
		return
	}
	path := ev.Path
	r.exec.Go(func() {
		var user User
		data, err := os.ReadFile(path)
		if err == nil && len(bytes.TrimSpace(data)) > 0 {
			err = json.Unmarshal(data, &user)
		}
		if err == nil && user.Login != "" && r.sponsor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			sponsor, serr := r.sponsor.IsSponsor(ctx, user.Login)
			cancel()
			if serr != nil {
				r.logger.Warn("router: sponsor check failed", slog.String("login", user.Login), slog.String("error", serr.Error()))
			}
			user.Sponsor = sponsor
		}
		r.exec.Post(func() {
			if err != nil {
				r.logger.Warn("router: user parse failed", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			r.state.User = user
			r.notify.UserChanged(user)
		})
	})
}

type shortcutsFile struct {
	Shortcuts map[string]string `json:"shortcuts"`
}

func (r *Router) handleShortcuts(_ string, data []byte) error {
	var f shortcutsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode shortcuts.json: %w", err)
	}
	accel := f.Shortcuts["main"]
	if accel == "" {
		accel = DefaultMainShortcut
	}
	r.setMain(accel)
	return nil
}

func (r *Router) setMain(accel string) {
	if r.shortcuts == nil {
		r.state.MainShortcut = accel
		return
	}
	if err := r.shortcuts.SetMain(accel); err != nil {
		r.logger.Warn("router: main shortcut rejected", slog.String("shortcut", accel), slog.String("error", err.Error()))
		return
	}
	r.state.MainShortcut = accel
	r.logger.Info("router: main shortcut set", slog.String("shortcut", accel))
}
