package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starford/kitd/internal/models"
)

type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

// Schedules runs scripts on cron expressions. Standard five-field specs and
// descriptors such as "@hourly" or "@every 5m" are accepted.
type Schedules struct {
	cron   *cron.Cron
	emit   Emitter
	logger *slog.Logger

	byPath map[string]scheduleEntry
}

// NewSchedules returns a stopped schedule registry. Jobs are kept while
// stopped and begin firing after Start.
func NewSchedules(emit Emitter, logger *slog.Logger) *Schedules {
	if logger == nil {
		logger = slog.Default()
	}
	return &Schedules{
		cron:   cron.New(),
		emit:   emit,
		logger: logger,
		byPath: make(map[string]scheduleEntry),
	}
}

func (r *Schedules) Kind() Kind { return KindSchedule }

func (r *Schedules) Register(path string, meta *models.ScriptMetadata) error {
	r.Unregister(path)
	if meta == nil || meta.Triggers.Schedule == "" {
		return nil
	}

	spec := meta.Triggers.Schedule
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		r.logger.Warn("registry: invalid schedule",
			slog.String("path", path),
			slog.String("schedule", spec),
			slog.String("error", err.Error()),
		)
		return nil
	}
	id := r.cron.Schedule(sched, cron.FuncJob(func() {
		r.emit.emit(path, models.TriggerSchedule)
	}))
	r.byPath[path] = scheduleEntry{id: id, spec: spec}
	return nil
}

func (r *Schedules) Unregister(path string) {
	e, ok := r.byPath[path]
	if !ok {
		return
	}
	r.cron.Remove(e.id)
	delete(r.byPath, path)
}

func (r *Schedules) Has(path string) bool {
	_, ok := r.byPath[path]
	return ok
}

func (r *Schedules) List() []Registration {
	m := make(map[string]string, len(r.byPath))
	for p, e := range r.byPath {
		m[p] = e.spec
	}
	return sortedRegistrations(m)
}

// Next returns the next fire time of path's schedule computed from now.
func (r *Schedules) Next(path string, now time.Time) (time.Time, bool) {
	e, ok := r.byPath[path]
	if !ok {
		return time.Time{}, false
	}
	return r.cron.Entry(e.id).Schedule.Next(now), true
}

// Start begins firing jobs.
func (r *Schedules) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and returns a context done once running jobs end.
func (r *Schedules) Stop() context.Context {
	return r.cron.Stop()
}
