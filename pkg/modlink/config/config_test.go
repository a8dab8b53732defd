package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tempDir
}

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", "modlink")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Deploy.Concurrency != DefaultConcurrency {
		t.Errorf("Deploy.Concurrency = %d, want %d", cfg.Deploy.Concurrency, DefaultConcurrency)
	}
	if !slices.Equal(cfg.Deploy.Methods, DefaultMethods) {
		t.Errorf("Deploy.Methods = %v, want %v", cfg.Deploy.Methods, DefaultMethods)
	}
	if len(cfg.Deploy.Ignore) != len(DefaultIgnore()) {
		t.Errorf("len(Deploy.Ignore) = %d, want %d", len(cfg.Deploy.Ignore), len(DefaultIgnore()))
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History.RetentionDays = %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}
	if cfg.Remove.UseTrash {
		t.Error("Remove.UseTrash = true, want false")
	}
	if cfg.StatePath != DefaultStatePath() {
		t.Errorf("StatePath = %q, want %q", cfg.StatePath, DefaultStatePath())
	}
	if cfg.DBPath != DefaultDBPath() {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, DefaultDBPath())
	}
	if len(cfg.Games) != 0 {
		t.Errorf("len(Games) = %d, want 0", len(cfg.Games))
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `
staging_root: ~/mods
state_path: /custom/state.yaml
deploy:
  concurrency: 2
  methods: [symlink]
remove:
  use_trash: true
history:
  enabled: false
  retention_days: 7
games:
  - id: skyrimse
    name: Skyrim Special Edition
    mod_types:
      default: Data
      enb: .
    incompatible_methods: [copy]
daemon:
  debounce: 500ms
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StagingRoot != filepath.Join(home, "mods") {
		t.Errorf("StagingRoot = %q, want expanded home path", cfg.StagingRoot)
	}
	if cfg.StatePath != "/custom/state.yaml" {
		t.Errorf("StatePath = %q, want /custom/state.yaml", cfg.StatePath)
	}
	if cfg.Deploy.Concurrency != 2 {
		t.Errorf("Deploy.Concurrency = %d, want 2", cfg.Deploy.Concurrency)
	}
	if !slices.Equal(cfg.Deploy.Methods, []string{"symlink"}) {
		t.Errorf("Deploy.Methods = %v, want [symlink]", cfg.Deploy.Methods)
	}
	if !cfg.Remove.UseTrash {
		t.Error("Remove.UseTrash = false, want true")
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want false")
	}

	if len(cfg.Games) != 1 {
		t.Fatalf("len(Games) = %d, want 1", len(cfg.Games))
	}
	g := cfg.Games[0]
	if g.ID() != "skyrimse" || g.Name() != "Skyrim Special Edition" {
		t.Errorf("game = %q/%q", g.ID(), g.Name())
	}
	if !g.Incompatible("copy") {
		t.Error("copy should be incompatible")
	}
	paths := g.ModPaths("/games/skyrim")
	if paths["enb"] != "/games/skyrim" || paths["default"] != "/games/skyrim/Data" {
		t.Errorf("ModPaths = %v", paths)
	}

	if _, err := cfg.GameRegistry().Get("skyrimse"); err != nil {
		t.Errorf("GameRegistry() missing skyrimse: %v", err)
	}

	d, err := cfg.DebounceDuration()
	if err != nil || d != 500*time.Millisecond {
		t.Errorf("DebounceDuration() = %v, %v", d, err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("MODLINK_DEPLOY_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Deploy.Concurrency != 8 {
		t.Errorf("Deploy.Concurrency = %d, want 8", cfg.Deploy.Concurrency)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero concurrency", "deploy:\n  concurrency: 0\n"},
		{"game without id", "games:\n  - name: Nameless\n"},
		{"malformed yaml", "deploy: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			writeConfig(t, home, tt.content)
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	lc, err := cfg.LoggingConfig()
	if err != nil {
		t.Fatalf("LoggingConfig() error = %v", err)
	}
	if lc.Rotation.MaxSize != 10*1000*1000 {
		t.Errorf("Rotation.MaxSize = %d, want 10MB", lc.Rotation.MaxSize)
	}
	if lc.Components["watcher"] != "warn" {
		t.Errorf("Components[watcher] = %q, want warn", lc.Components["watcher"])
	}

	cfg.Logging.Rotation.MaxSize = "lots"
	if _, err := cfg.LoggingConfig(); err == nil {
		t.Error("LoggingConfig() with bad size error = nil")
	}
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	if err := WriteDefault(); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	path := filepath.Join(home, ".config", "modlink", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	for _, want := range []string{"staging_root:", "concurrency: 4", `"fomod/**"`, "debounce: 2s"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("default config missing %q", want)
		}
	}

	// The written file must load cleanly.
	if _, err := Load(); err != nil {
		t.Errorf("Load() after WriteDefault() error = %v", err)
	}

	// Existing files are left alone.
	if err := os.WriteFile(path, []byte("deploy:\n  concurrency: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(); err != nil {
		t.Fatalf("second WriteDefault() error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "deploy:\n  concurrency: 3\n" {
		t.Error("WriteDefault() overwrote an existing config")
	}
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	got, err := ExpandPath("~/mods")
	if err != nil || got != filepath.Join(home, "mods") {
		t.Errorf("ExpandPath(~/mods) = %q, %v", got, err)
	}
	got, _ = ExpandPath("/abs")
	if got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %q", got)
	}
}

func TestLoadFile_Explicit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("deploy:\n  concurrency: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Deploy.Concurrency != 6 {
		t.Errorf("Deploy.Concurrency = %d, want 6", cfg.Deploy.Concurrency)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() of a missing explicit file should fail")
	}
}
