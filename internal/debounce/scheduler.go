// Package debounce provides a keyed coalescing scheduler: a burst of calls for
// the same key collapses into a single delayed action.
package debounce

import (
	"sync"
	"time"
)

// Executor runs a fired action. The event loop's Post satisfies it, which
// keeps debounced work on the loop goroutine.
type Executor func(fn func()) bool

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler coalesces actions per key. Scheduling a key that is already
// pending stops the old timer and replaces its action; only the latest call
// survives.
type Scheduler struct {
	exec Executor

	mu      sync.Mutex
	pending map[string]pending
	gen     uint64
	closed  bool
}

// New returns a Scheduler. A nil exec runs actions on the timer goroutine.
func New(exec Executor) *Scheduler {
	return &Scheduler{
		exec:    exec,
		pending: make(map[string]pending),
	}
}

// Schedule arranges for action to run after delay unless key is scheduled
// again (or cancelled) first.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending[key] = pending{
		gen: gen,
		timer: time.AfterFunc(delay, func() {
			s.mu.Lock()
			p, ok := s.pending[key]
			if !ok || p.gen != gen {
				s.mu.Unlock()
				return
			}
			delete(s.pending, key)
			s.mu.Unlock()

			if s.exec != nil {
				s.exec(action)
				return
			}
			action()
		}),
	}
}

// Cancel drops the pending action for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
}

// Close cancels every pending action and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
}

// IsPending reports whether key has an action waiting.
func (s *Scheduler) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// PendingCount returns the number of keys waiting to fire.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
