// Package loop implements the single event-processing goroutine that owns
// every trigger registry.
//
// Concurrency model: one goroutine drains a task channel. Watcher callbacks,
// debounced actions and outside readers submit closures instead of touching
// registry state directly, so the registries need no mutexes.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/starford/kitd/internal/apperr"
)

// Loop is a serial task executor.
type Loop struct {
	logger *slog.Logger

	tasks   chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a loop with the given task buffer. It does nothing until Run.
func New(buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:  logger,
		tasks:   make(chan func(), buffer),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run drains tasks until ctx is cancelled or Close is called. It must be
// called at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("loop: already running")
	}
	defer close(l.stopped)

	for {
		select {
		case <-ctx.Done():
			l.closed.Store(true)
			return nil
		case <-l.stopCh:
			return nil
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// Post queues fn for execution on the loop. It returns false once the loop
// has stopped.
func (l *Loop) Post(fn func()) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopped:
		return false
	case <-l.stopCh:
		return false
	}
}

// Go runs fn on its own goroutine. Work that blocks on disk or the network
// goes here and posts its result back with Post.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return apperr.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return apperr.ErrClosed
	}
}

// Close stops the loop. Pending tasks are discarded.
func (l *Loop) Close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
	if l.started.Load() {
		<-l.stopped
	}
}

// Inline executes everything immediately on the caller's goroutine. Tests
// and one-shot commands use it in place of a running Loop.
type Inline struct{}

// Post runs fn now.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Go runs fn now.
func (Inline) Go(fn func()) {
	fn()
}

// Call runs fn now.
func (Inline) Call(_ context.Context, fn func()) error {
	fn()
	return nil
}
