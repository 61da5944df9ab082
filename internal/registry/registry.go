// Package registry holds the six trigger stores that scripts register into.
//
// Every store implements Registry. Register always drops whatever the path had
// before, so re-registering leaves exactly the newest spec active. Invalid
// entries are skipped with a warning; Register returns an error only when an
// outside collaborator (the OS shortcut binder, a glob watcher) fails.
//
// None of the stores lock. They are owned by the event loop.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/starford/kitd/internal/models"
)

// Kind names a trigger registry.
type Kind string

const (
	KindShortcut   Kind = "shortcut"
	KindSchedule   Kind = "schedule"
	KindSystem     Kind = "system"
	KindWatch      Kind = "watch"
	KindBackground Kind = "background"
	KindSnippet    Kind = "snippet"
)

// Registration is one live (path, value) pair of a registry.
type Registration struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Registry is the contract shared by all trigger stores.
type Registry interface {
	Kind() Kind
	Register(path string, meta *models.ScriptMetadata) error
	Unregister(path string)
	Has(path string) bool
	List() []Registration
}

// Emitter receives run requests produced by triggers. It is called on the
// loop (Fire, Press, Feed, auto backgrounds) and from cron and glob watcher
// goroutines, so it must be safe for concurrent use and must not wait on the
// loop.
type Emitter func(models.RunRequest)

func (e Emitter) emit(script, trigger string, args ...string) {
	if e == nil {
		return
	}
	if args == nil {
		args = []string{}
	}
	e(models.RunRequest{
		ID:      uuid.NewString(),
		Script:  script,
		Args:    args,
		Trigger: trigger,
	})
}

// Set applies an operation to every registry in a fixed order.
type Set struct {
	regs   []Registry
	byKind map[Kind]Registry
}

// NewSet returns a Set over regs. Later registries with a duplicate kind
// replace earlier ones.
func NewSet(regs ...Registry) *Set {
	s := &Set{byKind: make(map[Kind]Registry, len(regs))}
	for _, r := range regs {
		if _, dup := s.byKind[r.Kind()]; dup {
			for i, old := range s.regs {
				if old.Kind() == r.Kind() {
					s.regs[i] = r
				}
			}
		} else {
			s.regs = append(s.regs, r)
		}
		s.byKind[r.Kind()] = r
	}
	return s
}

// RegisterAll registers meta in every registry. A failing registry does not
// stop the others; all failures are joined.
func (s *Set) RegisterAll(path string, meta *models.ScriptMetadata) error {
	var errs []error
	for _, r := range s.regs {
		if err := r.Register(path, meta); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// UnregisterAll removes path from every registry.
func (s *Set) UnregisterAll(path string) {
	for _, r := range s.regs {
		r.Unregister(path)
	}
}

// Get returns the registry of the given kind.
func (s *Set) Get(kind Kind) (Registry, bool) {
	r, ok := s.byKind[kind]
	return r, ok
}

// Kinds lists the registered kinds in application order.
func (s *Set) Kinds() []Kind {
	out := make([]Kind, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, r.Kind())
	}
	return out
}

// Registered returns the kinds that currently hold path.
func (s *Set) Registered(path string) []Kind {
	var out []Kind
	for _, r := range s.regs {
		if r.Has(path) {
			out = append(out, r.Kind())
		}
	}
	return out
}

func sortedRegistrations(m map[string]string) []Registration {
	out := make([]Registration, 0, len(m))
	for p, v := range m {
		out = append(out, Registration{Path: p, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
