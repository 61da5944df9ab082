package pipeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/starford/kitd/internal/debounce"
	"github.com/starford/kitd/internal/pathnorm"
	"github.com/starford/kitd/internal/preview"
	"github.com/starford/kitd/internal/recent"
)

// ImportGraph supplies the static import edges as source → targets.
type ImportGraph interface {
	AllImports() (map[string][]string, error)
}

// Rescanner invalidates the caches of every script that transitively imports
// a changed file. Dependents are marked recently processed so their own
// change echoes are not re-parsed; the changed files themselves never are.
type Rescanner struct {
	exec     Executor
	graph    ImportGraph
	previews *preview.Cache
	tracker  *recent.Tracker
	norm     pathnorm.Normalizer
	delay    time.Duration
	logger   *slog.Logger
	sched    *debounce.Scheduler
	now      func() time.Time

	pending  map[string]string // normalized → original path
	onRescan func(changed, dependents []string)
}

// NewRescanner returns a Rescanner that coalesces change bursts for delay.
func NewRescanner(exec Executor, graph ImportGraph, previews *preview.Cache, tracker *recent.Tracker,
	norm pathnorm.Normalizer, delay time.Duration, logger *slog.Logger) *Rescanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rescanner{
		exec:     exec,
		graph:    graph,
		previews: previews,
		tracker:  tracker,
		norm:     norm,
		delay:    delay,
		logger:   logger,
		sched:    debounce.New(exec.Post),
		now:      time.Now,
		pending:  make(map[string]string),
	}
}

// OnRescan registers a hook called on the loop after each pass.
func (r *Rescanner) OnRescan(fn func(changed, dependents []string)) {
	r.onRescan = fn
}

// Schedule adds path to the next pass.
func (r *Rescanner) Schedule(path string) {
	r.pending[r.norm.Normalize(path)] = path
	r.sched.Schedule("rescan", r.delay, r.run)
}

func (r *Rescanner) run() {
	if len(r.pending) == 0 {
		return
	}
	changed := r.pending
	r.pending = make(map[string]string)

	r.exec.Go(func() {
		edges, err := r.graph.AllImports()
		r.exec.Post(func() {
			if err != nil {
				r.logger.Warn("rescan: load import graph failed", slog.String("error", err.Error()))
				return
			}
			r.apply(changed, edges)
		})
	})
}

func (r *Rescanner) apply(changed map[string]string, edges map[string][]string) {
	roots := make([]string, 0, len(changed))
	for _, p := range changed {
		roots = append(roots, p)
	}
	sort.Strings(roots)

	deps := Dependents(edges, roots, r.norm)
	now := r.now()
	for _, d := range deps {
		if r.previews != nil {
			r.previews.Invalidate(d)
		}
		if r.tracker != nil {
			r.tracker.MarkProcessed(d, now)
		}
	}
	if r.tracker != nil {
		r.tracker.Prune(now)
	}

	r.logger.Debug("rescan: invalidated dependents",
		slog.Int("changed", len(roots)),
		slog.Int("dependents", len(deps)),
	)
	if r.onRescan != nil {
		r.onRescan(roots, deps)
	}
}

// Close cancels a pending pass.
func (r *Rescanner) Close() {
	r.sched.Close()
}

// Dependents walks edges backwards from roots and returns every script that
// transitively imports one of them, sorted. Roots are never included, even
// when an import cycle leads back to them.
func Dependents(edges map[string][]string, roots []string, norm pathnorm.Normalizer) []string {
	reverse := make(map[string][]string)
	for src, targets := range edges {
		for _, t := range targets {
			k := norm.Normalize(t)
			reverse[k] = append(reverse[k], src)
		}
	}

	excluded := make(map[string]bool, len(roots))
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		k := norm.Normalize(r)
		excluded[k] = true
		queue = append(queue, k)
	}

	visited := make(map[string]bool)
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, src := range reverse[cur] {
			k := norm.Normalize(src)
			if visited[k] || excluded[k] {
				continue
			}
			visited[k] = true
			out = append(out, src)
			queue = append(queue, k)
		}
	}
	sort.Strings(out)
	return out
}
