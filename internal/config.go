package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/kitd/internal/pipeline"
	"github.com/starford/kitd/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Kit     KitConfig         `yaml:"kit"`
	Watcher WatcherConfig     `yaml:"watcher"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Kit.Validate(); err != nil {
		return fmt.Errorf("kit: %w", err)
	}
	if err := c.Watcher.Validate(); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, sends logs to a rotated file instead of stdout.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// KitConfig locates the kit and kenv directories and configures the build
// step for TypeScript and JSX scripts.
type KitConfig struct {
	KitPath  string      `yaml:"kit_path"`
	KenvPath string      `yaml:"kenv_path"`
	Build    BuildConfig `yaml:"build"`
	// SponsorURL is queried whenever user.json changes. Empty disables the check.
	SponsorURL string `yaml:"sponsor_url"`
}

// Layout returns the directory layout described by the config.
func (c *KitConfig) Layout() storage.Layout {
	return storage.Layout{KenvPath: c.KenvPath, KitPath: c.KitPath}
}

// Validate validates the kit configuration.
func (c *KitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.KitPath, validation.Required),
		validation.Field(&c.KenvPath, validation.Required),
		validation.Field(&c.Build),
	)
}

// BuildConfig is the external compiler invocation. "{src}" and "{out}" in
// Args are substituted per file. An empty Command disables builds.
type BuildConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Validate validates the build configuration.
func (c BuildConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Args, validation.When(c.Command != "", validation.Required)),
	)
}

// WatcherConfig tunes the debounce delays and path comparison.
type WatcherConfig struct {
	BuildDebounce  time.Duration `yaml:"build_debounce"`
	BinDebounce    time.Duration `yaml:"bin_debounce"`
	RescanDelay    time.Duration `yaml:"rescan_delay"`
	RecentWindow   time.Duration `yaml:"recent_window"`
	PreviewCache   int           `yaml:"preview_cache"`
	CaseSensitive  *bool         `yaml:"case_sensitive"`
	LoopBufferSize int           `yaml:"loop_buffer"`
}

// Timings converts the debounce settings for the pipeline.
func (c *WatcherConfig) Timings() pipeline.Timings {
	return pipeline.Timings{Build: c.BuildDebounce, Bin: c.BinDebounce, Rescan: c.RescanDelay}
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BuildDebounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.BinDebounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RescanDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RecentWindow, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.PreviewCache, validation.Min(0)),
		validation.Field(&c.LoopBufferSize, validation.Min(0)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	t := pipeline.DefaultTimings()
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 5175,
			},
		},
		Kit: KitConfig{
			KitPath:  filepath.Join(home, ".kit"),
			KenvPath: filepath.Join(home, ".kenv"),
		},
		Watcher: WatcherConfig{
			BuildDebounce: t.Build,
			BinDebounce:   t.Bin,
			RescanDelay:   t.Rescan,
			RecentWindow:  5 * time.Second,
			PreviewCache:  512,
		},
		SQLite: SQLiteConfig{
			Path: filepath.Join(home, ".kit", "db", "scripts.db"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
