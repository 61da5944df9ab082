// Package pipeline routes classified filesystem events to the handlers that
// keep the trigger registries, the script index and the preview cache in
// step with the files on disk.
//
// Everything in this package except the I/O closures handed to Executor.Go
// runs on the event loop. Nothing here locks.
package pipeline

import (
	"time"

	"github.com/starford/kitd/internal/models"
)

// Executor is the slice of the event loop the pipeline needs.
type Executor interface {
	// Post queues fn on the loop goroutine.
	Post(fn func()) bool
	// Go runs blocking work off the loop.
	Go(fn func())
}

// ParseFunc reads and parses one script file.
type ParseFunc func(path string) (*models.ScriptMetadata, error)

// Notifier receives the outbound notifications of the pipeline. Methods may
// be called from any goroutine.
type Notifier interface {
	ScriptChanged(path string)
	ScriptRemoved(path string, removed uint64)
	RunRequested(req models.RunRequest)
	UserChanged(user User)
	AppConfigChanged(cfg AppConfig)
}

// Timings are the debounce delays of the pipeline.
type Timings struct {
	Build  time.Duration
	Bin    time.Duration
	Rescan time.Duration
}

// DefaultTimings returns the stock delays.
func DefaultTimings() Timings {
	return Timings{
		Build:  150 * time.Millisecond,
		Bin:    time.Second,
		Rescan: time.Second,
	}
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) ScriptChanged(string)           {}
func (NopNotifier) ScriptRemoved(string, uint64)   {}
func (NopNotifier) RunRequested(models.RunRequest) {}
func (NopNotifier) UserChanged(User)               {}
func (NopNotifier) AppConfigChanged(AppConfig)     {}
