// Package recent records which files were touched by kitd's own dependency
// cascade so the watcher does not feed them back into the pipeline.
package recent

import (
	"time"

	"github.com/starford/kitd/internal/pathnorm"
)

// DefaultWindow is how long a mark stays live.
const DefaultWindow = 5 * time.Second

// Tracker is a time-windowed set of normalised paths.
//
// It is owned by the event loop and is not safe for concurrent use.
type Tracker struct {
	window time.Duration
	norm   pathnorm.Normalizer
	marks  map[string]time.Time
}

// NewTracker returns a tracker with the given window. A non-positive window
// falls back to DefaultWindow.
func NewTracker(window time.Duration, norm pathnorm.Normalizer) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window: window,
		norm:   norm,
		marks:  make(map[string]time.Time),
	}
}

// Window returns the configured window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// MarkProcessed records that path was handled by the cascade at time at.
func (t *Tracker) MarkProcessed(path string, at time.Time) {
	t.marks[t.norm.Normalize(path)] = at
}

// WasRecentlyProcessed reports whether path was marked less than one window
// before now. Expired entries are dropped as they are observed.
func (t *Tracker) WasRecentlyProcessed(path string, now time.Time) bool {
	key := t.norm.Normalize(path)
	at, ok := t.marks[key]
	if !ok {
		return false
	}
	if now.Sub(at) >= t.window {
		delete(t.marks, key)
		return false
	}
	return true
}

// Forget drops any mark for path.
func (t *Tracker) Forget(path string) {
	delete(t.marks, t.norm.Normalize(path))
}

// Prune removes every expired mark and returns how many were dropped.
func (t *Tracker) Prune(now time.Time) int {
	n := 0
	for k, at := range t.marks {
		if now.Sub(at) >= t.window {
			delete(t.marks, k)
			n++
		}
	}
	return n
}

// Len returns the number of marks currently held, expired or not.
func (t *Tracker) Len() int {
	return len(t.marks)
}
