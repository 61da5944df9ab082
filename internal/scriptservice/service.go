// Package scriptservice is the read side shared by the HTTP API and the MCP
// server. Index queries go straight to SQLite; registry queries are executed
// on the event loop.
package scriptservice

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/parser"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/pipeline"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/snippet"
	"github.com/starford/kitd/internal/storage"
)

// Caller runs fn on the goroutine that owns the registries and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// ScriptDetail is the full representation of an indexed script.
type ScriptDetail struct {
	index.ScriptRow
	Registered []registry.Kind `json:"registered"`
	Dependents []string        `json:"dependents"`
	Preview    string          `json:"preview"`
}

// Status is a snapshot of the session state the daemon rebuilt from the
// state files. Env values are withheld.
type Status struct {
	Ready        bool               `json:"ready"`
	MainShortcut string             `json:"mainShortcut"`
	EnvKeys      []string           `json:"envKeys"`
	App          pipeline.AppConfig `json:"app"`
	User         pipeline.User      `json:"user"`
	Removed      uint64             `json:"removed"`
}

// Config wires a Service.
type Config struct {
	Loop       Caller
	Index      index.ScriptIndex
	Store      storage.Provider
	Registries *registry.Set
	Shortcuts  *registry.Shortcuts
	Snippets   *registry.Snippets
	Systems    *registry.Systems
	Previews   *preview.Cache
	Notifier   pipeline.Notifier
	Normalizer pathnorm.Normalizer
	// Router and Coordinator are optional; Status reports zero values for
	// whatever is missing.
	Router      *pipeline.Router
	Coordinator *pipeline.Coordinator
	// Ready reports whether the initial scan has finished.
	Ready func() bool
}

// Service answers queries about scripts and their registrations.
type Service struct {
	cfg Config
}

// NewService creates a new script service.
func NewService(cfg Config) *Service {
	if cfg.Notifier == nil {
		cfg.Notifier = pipeline.NopNotifier{}
	}
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	return &Service{cfg: cfg}
}

// Ready reports whether the initial scan has completed.
func (s *Service) Ready() bool {
	return s.cfg.Ready()
}

// ListScripts returns indexed scripts, optionally filtered by kenv.
func (s *Service) ListScripts(_ context.Context, kenv string, limit, offset int) ([]index.ScriptRow, int, error) {
	rows, total, err := s.cfg.Index.ListScripts(kenv, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// GetScript returns the indexed row for path enriched with its live
// registrations, its dependents and a rendered preview.
func (s *Service) GetScript(ctx context.Context, path string) (*ScriptDetail, error) {
	row, err := s.cfg.Index.GetScript(path)
	if err != nil {
		return nil, err
	}

	var kinds []registry.Kind
	if s.cfg.Registries != nil {
		if err := s.cfg.Loop.Call(ctx, func() { kinds = s.cfg.Registries.Registered(row.Path) }); err != nil {
			return nil, fmt.Errorf("scriptservice: registrations: %w", err)
		}
	}

	deps, err := s.Dependents(ctx, row.Path)
	if err != nil {
		return nil, err
	}

	pv, err := s.Preview(ctx, row.Path)
	if err != nil {
		return nil, err
	}

	return &ScriptDetail{
		ScriptRow:  *row,
		Registered: nonNilSlice(kinds),
		Dependents: deps,
		Preview:    pv.Body,
	}, nil
}

// ReadScript returns the raw source of an indexed script.
func (s *Service) ReadScript(_ context.Context, path string) ([]byte, error) {
	if _, err := s.cfg.Index.GetScript(path); err != nil {
		return nil, err
	}
	data, err := s.cfg.Store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Preview returns the cached preview for path, rendering and caching it on
// a miss or when the cached checksum is stale.
func (s *Service) Preview(ctx context.Context, path string) (preview.Entry, error) {
	row, err := s.cfg.Index.GetScript(path)
	if err != nil {
		return preview.Entry{}, err
	}
	if s.cfg.Previews != nil {
		if e, ok := s.cfg.Previews.Get(row.Path); ok && e.Checksum == row.Checksum {
			return e, nil
		}
	}
	data, err := s.ReadScript(ctx, row.Path)
	if err != nil {
		return preview.Entry{}, err
	}
	meta, err := parser.Parse(row.Path, data)
	if err != nil {
		return preview.Entry{}, fmt.Errorf("scriptservice: parse %s: %w", row.Path, err)
	}
	e := preview.Render(meta, data, time.Now())
	if s.cfg.Previews != nil {
		s.cfg.Previews.Put(e)
	}
	return e, nil
}

// Search looks up scripts by name, command or description.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.cfg.Index.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Dependents returns every script that transitively imports path.
func (s *Service) Dependents(_ context.Context, path string) ([]string, error) {
	edges, err := s.cfg.Index.AllImports()
	if err != nil {
		return nil, fmt.Errorf("scriptservice: imports: %w", err)
	}
	return nonNilSlice(pipeline.Dependents(edges, []string{path}, s.cfg.Normalizer)), nil
}

// Triggers lists the registrations held by the registry of the given kind.
func (s *Service) Triggers(ctx context.Context, kind registry.Kind) ([]registry.Registration, error) {
	reg, ok := s.cfg.Registries.Get(kind)
	if !ok {
		return nil, fmt.Errorf("scriptservice: registry %q: %w", kind, apperr.ErrNotFound)
	}
	var out []registry.Registration
	if err := s.cfg.Loop.Call(ctx, func() { out = reg.List() }); err != nil {
		return nil, err
	}
	return nonNilSlice(out), nil
}

// MatchSnippet returns the snippets whose key ends tail.
func (s *Service) MatchSnippet(ctx context.Context, tail string) ([]snippet.Entry, error) {
	var out []snippet.Entry
	if err := s.cfg.Loop.Call(ctx, func() { out = s.cfg.Snippets.Match(tail) }); err != nil {
		return nil, err
	}
	return nonNilSlice(out), nil
}

// FireSystem dispatches a system event and returns the number of scripts
// that were asked to run.
func (s *Service) FireSystem(ctx context.Context, event string) (int, error) {
	var (
		n       int
		fireErr error
	)
	if err := s.cfg.Loop.Call(ctx, func() { n, fireErr = s.cfg.Systems.Fire(event) }); err != nil {
		return 0, err
	}
	return n, fireErr
}

// Run asks the shell to run an indexed script.
func (s *Service) Run(ctx context.Context, path string, args []string) (models.RunRequest, error) {
	if !s.Ready() {
		return models.RunRequest{}, apperr.ErrNotReady
	}
	row, err := s.cfg.Index.GetScript(path)
	if err != nil {
		return models.RunRequest{}, err
	}
	req := models.RunRequest{
		ID:      uuid.NewString(),
		Script:  row.Path,
		Args:    nonNilSlice(args),
		Trigger: models.TriggerAPI,
	}
	if err := s.cfg.Loop.Call(ctx, func() { s.cfg.Notifier.RunRequested(req) }); err != nil {
		return models.RunRequest{}, err
	}
	return req, nil
}

// PressShortcut runs the script bound to accel as if the accelerator had
// been typed, and returns that script's path.
func (s *Service) PressShortcut(ctx context.Context, accel string) (string, error) {
	if _, err := registry.ParseAccelerator(accel); err != nil {
		return "", err
	}
	if s.cfg.Shortcuts == nil {
		return "", apperr.ErrNotFound
	}
	var (
		owner string
		ok    bool
	)
	err := s.cfg.Loop.Call(ctx, func() {
		if owner, ok = s.cfg.Shortcuts.Owner(accel); ok {
			s.cfg.Shortcuts.Press(accel)
		}
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("scriptservice: shortcut %q: %w", accel, apperr.ErrNotFound)
	}
	return owner, nil
}

// Status returns the current session state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Ready: s.Ready(), EnvKeys: []string{}, App: pipeline.AppConfig{}}
	err := s.cfg.Loop.Call(ctx, func() {
		if s.cfg.Router != nil {
			snap := s.cfg.Router.State().Snapshot()
			st.EnvKeys = slices.Sorted(maps.Keys(snap.Env))
			st.App = snap.App
			st.User = snap.User
		}
		if s.cfg.Shortcuts != nil {
			st.MainShortcut = s.cfg.Shortcuts.Main()
		}
		if s.cfg.Coordinator != nil {
			st.Removed = s.cfg.Coordinator.Removed()
		}
	})
	if err != nil {
		return Status{}, err
	}
	st.EnvKeys = nonNilSlice(st.EnvKeys)
	if st.App == nil {
		st.App = pipeline.AppConfig{}
	}
	return st, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
