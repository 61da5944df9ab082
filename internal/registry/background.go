package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/models"
)

// Background modes.
const (
	BackgroundManual = "true"
	BackgroundAuto   = "auto"
)

// Supervisor starts and stops long-running background scripts.
type Supervisor interface {
	Start(path string) error
	Stop(path string) error
}

// EmitSupervisor turns start requests into run requests and tracks which
// scripts it started.
type EmitSupervisor struct {
	Emit    Emitter
	running map[string]bool
}

func (s *EmitSupervisor) Start(path string) error {
	if s.running == nil {
		s.running = make(map[string]bool)
	}
	if s.running[path] {
		return nil
	}
	s.running[path] = true
	s.Emit.emit(path, models.TriggerBackground)
	return nil
}

func (s *EmitSupervisor) Stop(path string) error {
	delete(s.running, path)
	return nil
}

// Running reports whether path was started and not stopped since.
func (s *EmitSupervisor) Running(path string) bool {
	return s.running[path]
}

// Backgrounds tracks scripts declaring "Background: true" or "auto". Auto
// scripts are started as soon as they register.
type Backgrounds struct {
	sup    Supervisor
	logger *slog.Logger

	byPath map[string]string
}

// NewBackgrounds returns an empty background registry.
func NewBackgrounds(sup Supervisor, logger *slog.Logger) *Backgrounds {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backgrounds{sup: sup, logger: logger, byPath: make(map[string]string)}
}

func (r *Backgrounds) Kind() Kind { return KindBackground }

func (r *Backgrounds) Register(path string, meta *models.ScriptMetadata) error {
	r.Unregister(path)
	if meta == nil {
		return nil
	}

	mode := strings.ToLower(strings.TrimSpace(meta.Triggers.Background))
	switch mode {
	case "", "false":
		return nil
	case BackgroundManual, BackgroundAuto:
	default:
		r.logger.Warn("registry: invalid background mode",
			slog.String("path", path),
			slog.String("background", meta.Triggers.Background),
		)
		return nil
	}

	r.byPath[path] = mode
	if mode == BackgroundAuto && r.sup != nil {
		if err := r.sup.Start(path); err != nil {
			return fmt.Errorf("background: start %s: %w", path, err)
		}
	}
	return nil
}

func (r *Backgrounds) Unregister(path string) {
	if _, ok := r.byPath[path]; !ok {
		return
	}
	delete(r.byPath, path)
	if r.sup != nil {
		if err := r.sup.Stop(path); err != nil {
			r.logger.Warn("registry: stop background", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

func (r *Backgrounds) Has(path string) bool {
	_, ok := r.byPath[path]
	return ok
}

func (r *Backgrounds) List() []Registration {
	return sortedRegistrations(r.byPath)
}

// Start launches a registered background script on demand.
func (r *Backgrounds) Start(path string) error {
	if _, ok := r.byPath[path]; !ok {
		return fmt.Errorf("background: %s: %w", path, apperr.ErrNotFound)
	}
	if r.sup == nil {
		return nil
	}
	return r.sup.Start(path)
}
