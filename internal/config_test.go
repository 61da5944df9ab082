package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/kitd/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Watcher.Timings().Build != 150*time.Millisecond {
		t.Errorf("build debounce = %v", cfg.Watcher.Timings().Build)
	}
}

func TestWatcherConfig_ZeroDebounceRejected(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Watcher.RescanDelay = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "watcher") {
		t.Fatalf("err = %v, want watcher error", err)
	}
}

func TestKitConfig_BuildNeedsArgs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Kit.Build.Command = "esbuild"
	if err := cfg.Validate(); err == nil {
		t.Fatal("build command without args should fail")
	}
	cfg.Kit.Build.Args = []string{"{src}", "--outfile={out}"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("build with args: %v", err)
	}
}

func TestKitConfig_PathsRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Kit.KenvPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty kenv path should fail")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KITD_TEST_TOKEN", "s3cret")
	path := filepath.Join(dir, "config.yaml")
	data := `app:
  log_level: debug
  http:
    port: 9000
kit:
  kit_path: ` + dir + `/kit
  kenv_path: ` + dir + `/kenv
watcher:
  build_debounce: 50ms
  rescan_delay: 2s
  case_sensitive: true
auth:
  mode: token
  token: ${KITD_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9000 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Watcher.BuildDebounce != 50*time.Millisecond || cfg.Watcher.RescanDelay != 2*time.Second {
		t.Errorf("watcher = %+v", cfg.Watcher)
	}
	if cfg.Watcher.BinDebounce != time.Second {
		t.Errorf("unset bin debounce should keep default, got %v", cfg.Watcher.BinDebounce)
	}
	if cfg.Watcher.CaseSensitive == nil || !*cfg.Watcher.CaseSensitive {
		t.Error("case_sensitive not loaded")
	}
	if cfg.Auth.Token != "s3cret" || !cfg.Auth.AuthEnabled() {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Kit.Layout().ScriptsDir() != filepath.Join(dir, "kenv", "scripts") {
		t.Errorf("scripts dir = %s", cfg.Kit.Layout().ScriptsDir())
	}
}
