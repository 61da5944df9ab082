package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/models"
)

// SystemEvents are the OS power and session events a script may declare.
var SystemEvents = []string{
	"suspend",
	"resume",
	"on-ac",
	"on-battery",
	"shutdown",
	"lock-screen",
	"unlock-screen",
	"user-did-become-active",
	"user-did-resign-active",
}

// IsSystemEvent reports whether name is a known system event.
func IsSystemEvent(name string) bool {
	for _, e := range SystemEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Systems maps system events to the scripts that listen for them.
type Systems struct {
	emit   Emitter
	logger *slog.Logger

	byPath map[string][]string
}

// NewSystems returns an empty system-event registry.
func NewSystems(emit Emitter, logger *slog.Logger) *Systems {
	if logger == nil {
		logger = slog.Default()
	}
	return &Systems{emit: emit, logger: logger, byPath: make(map[string][]string)}
}

func (r *Systems) Kind() Kind { return KindSystem }

// Register installs every valid event of the space-separated spec. Unknown
// names are skipped with a warning.
func (r *Systems) Register(path string, meta *models.ScriptMetadata) error {
	r.Unregister(path)
	if meta == nil || meta.Triggers.System == "" {
		return nil
	}

	var events []string
	for _, name := range strings.Fields(meta.Triggers.System) {
		name = strings.ToLower(name)
		if !IsSystemEvent(name) {
			r.logger.Warn("registry: invalid system event",
				slog.String("path", path),
				slog.String("event", name),
			)
			continue
		}
		if !contains(events, name) {
			events = append(events, name)
		}
	}
	if len(events) > 0 {
		r.byPath[path] = events
	}
	return nil
}

func (r *Systems) Unregister(path string) {
	delete(r.byPath, path)
}

func (r *Systems) Has(path string) bool {
	_, ok := r.byPath[path]
	return ok
}

func (r *Systems) List() []Registration {
	m := make(map[string]string, len(r.byPath))
	for p, ev := range r.byPath {
		m[p] = strings.Join(ev, " ")
	}
	return sortedRegistrations(m)
}

// Events returns the events path listens for.
func (r *Systems) Events(path string) []string {
	return append([]string(nil), r.byPath[path]...)
}

// Fire emits a run request for each script listening for event and returns
// how many were requested.
func (r *Systems) Fire(event string) (int, error) {
	if !IsSystemEvent(event) {
		return 0, fmt.Errorf("system: unknown event %q: %w", event, apperr.ErrInvalidTrigger)
	}
	var paths []string
	for p, ev := range r.byPath {
		if contains(ev, event) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		r.emit.emit(p, models.TriggerSystem, event)
	}
	return len(paths), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
