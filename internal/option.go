package internal

import (
	"io"

	"github.com/starford/kitd/internal/registry"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	binder     registry.Binder
	supervisor registry.Supervisor
	logOutput  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithBinder installs the OS hotkey backend used by the shortcut registry.
// Without it shortcuts are tracked but not bound.
func WithBinder(b registry.Binder) Option {
	return func(a *application) {
		a.binder = b
	}
}

// WithSupervisor replaces the background job supervisor. The default one
// forwards start requests to the shell as run requests.
func WithSupervisor(s registry.Supervisor) Option {
	return func(a *application) {
		a.supervisor = s
	}
}

// WithLogOutput sends logs to w when no log file is configured.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}
