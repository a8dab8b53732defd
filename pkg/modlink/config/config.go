package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/modlink/pkg/modlink/games"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Format     string            `mapstructure:"format"`
	Console    string            `mapstructure:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// DeployConfig configures the deployment orchestrator.
type DeployConfig struct {
	Concurrency int      `mapstructure:"concurrency"`
	Ignore      []string `mapstructure:"ignore"`
	Methods     []string `mapstructure:"methods"`
}

// HistoryConfig configures the deployment journal.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DaemonConfig configures the staging watcher daemon.
type DaemonConfig struct {
	Debounce   string `mapstructure:"debounce"`
	BinaryPath string `mapstructure:"binary_path"` // Path to modlinkd binary (auto-discovered if empty)
	PIDPath    string `mapstructure:"pid_path"`
	StatusPath string `mapstructure:"status_path"`
}

// Config represents the application configuration.
type Config struct {
	StagingRoot string `mapstructure:"staging_root"`
	StatePath   string `mapstructure:"state_path"`
	DBPath      string `mapstructure:"db_path"`

	Deploy DeployConfig `mapstructure:"deploy"`
	Remove struct {
		UseTrash bool `mapstructure:"use_trash"`
	} `mapstructure:"remove"`
	History HistoryConfig      `mapstructure:"history"`
	Games   []games.Descriptor `mapstructure:"games"`
	Logging LoggingConfig      `mapstructure:"logging"`
	Daemon  DaemonConfig       `mapstructure:"daemon"`

	// File is the config file that was read, empty when defaults were used.
	File string `mapstructure:"-"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/modlink/config.yaml
//   - $HOME/.config/modlink/config.yaml
//
// Environment variables are prefixed with MODLINK_ (e.g., MODLINK_STAGING_ROOT).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "modlink"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "modlink"))
	}

	v.SetEnvPrefix("MODLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	cfg.File = v.ConfigFileUsed()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.resolve(homeDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("staging_root", filepath.Join(DataDir(), "mods"))
	v.SetDefault("state_path", "") // Empty means DefaultStatePath
	v.SetDefault("db_path", "")    // Empty means DefaultDBPath

	v.SetDefault("deploy.concurrency", DefaultConcurrency)
	v.SetDefault("deploy.ignore", DefaultIgnore())
	v.SetDefault("deploy.methods", DefaultMethods)
	v.SetDefault("remove.use_trash", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"deploy":    "info",
		"method":    "info",
		"lifecycle": "info",
		"watcher":   "warn",
	})

	v.SetDefault("daemon.debounce", DefaultDebounce)
	v.SetDefault("daemon.pid_path", "")
	v.SetDefault("daemon.status_path", "")
}

// resolve expands ~ and fills empty paths with their XDG defaults.
func (c *Config) resolve(homeDir string) error {
	expand := func(p *string, def string) {
		if *p == "" {
			*p = def
			return
		}
		if strings.HasPrefix(*p, "~") {
			*p = filepath.Join(homeDir, (*p)[1:])
		}
	}
	expand(&c.StagingRoot, filepath.Join(DataDir(), "mods"))
	expand(&c.StatePath, DefaultStatePath())
	expand(&c.DBPath, DefaultDBPath())
	expand(&c.History.Path, DefaultHistoryDir())
	expand(&c.Logging.Path, DefaultLogPath())
	expand(&c.Daemon.PIDPath, DefaultPIDPath())
	expand(&c.Daemon.StatusPath, DefaultStatusPath())

	if c.Deploy.Concurrency < 1 {
		return fmt.Errorf("deploy.concurrency must be at least 1, got %d", c.Deploy.Concurrency)
	}
	for i, g := range c.Games {
		if g.GameID == "" {
			return fmt.Errorf("games[%d]: id is required", i)
		}
	}
	return nil
}

// DebounceDuration parses daemon.debounce.
func (c *Config) DebounceDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Daemon.Debounce)
	if err != nil {
		return 0, fmt.Errorf("invalid daemon.debounce %q: %w", c.Daemon.Debounce, err)
	}
	return d, nil
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() (logging.Config, error) {
	rot := logging.RotationConfig{
		MaxAge:     c.Logging.Rotation.MaxAge,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		Daily:      c.Logging.Rotation.Daily,
	}
	if c.Logging.Rotation.MaxSize != "" {
		n, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("invalid logging.rotation.max_size %q: %w", c.Logging.Rotation.MaxSize, err)
		}
		rot.MaxSize = int64(n)
	}
	return logging.Config{
		Level:        c.Logging.Level,
		Path:         c.Logging.Path,
		Format:       c.Logging.Format,
		Rotation:     rot,
		Components:   c.Logging.Components,
		ConsoleLevel: c.Logging.Console,
	}, nil
}

// GameRegistry returns a registry of the configured games.
func (c *Config) GameRegistry() *games.Registry {
	gs := make([]games.Game, 0, len(c.Games))
	for _, g := range c.Games {
		gs = append(gs, g)
	}
	return games.NewRegistry(gs...)
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "modlink"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "modlink"), nil
}

// ConfigPath returns the path of the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# modlink configuration

# Parent of the per-game staging directories (<staging_root>/<game id>)
staging_root: %s

# Application state file (empty means use default: $XDG_DATA_HOME/modlink/state.yaml)
state_path: ""

# Activation database (empty means use default: $XDG_DATA_HOME/modlink/activation.db)
db_path: ""

deploy:
  # Maximum number of target directories deployed at once
  concurrency: %d
  # Staged files that are never deployed
  ignore:
%s
  # Deployment method preference order
  methods: [hardlink, symlink, copy]

remove:
  # Move removed mods to the system trash instead of deleting them
  use_trash: false

# Deployment history
history:
  enabled: true
  path: ""
  retention_days: %d

# Games and the directories each mod type deploys into, relative to the
# game's discovery path
games: []
#  - id: skyrimse
#    name: Skyrim Special Edition
#    mod_types:
#      "": Data
#      enb: .
#    incompatible_methods: []

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/modlink/modlink.log)
  path: ""
  # Mirror records at or above this level to stderr (empty disables)
  console: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    deploy: info
    method: info
    lifecycle: info
    watcher: warn

# Daemon configuration
daemon:
  # Quiet period before staging changes are applied
  debounce: %s
  # PID file path (empty means use default: $XDG_DATA_HOME/modlink/modlinkd.pid)
  pid_path: ""
  # Status file path (empty means use default: $XDG_DATA_HOME/modlink/status.json)
  status_path: ""
`, filepath.Join(DataDir(), "mods"), DefaultConcurrency, yamlList(DefaultIgnore(), "    "), DefaultRetentionDays, DefaultDebounce)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

func yamlList(items []string, indent string) string {
	var b strings.Builder
	for i, s := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s- %q", indent, s)
	}
	return b.String()
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/modlink/ for state, database and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "modlink")
}

// StateDir returns $XDG_STATE_HOME/modlink/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "modlink")
}

// DefaultStatePath returns the default application state file.
func DefaultStatePath() string {
	return filepath.Join(DataDir(), "state.yaml")
}

// DefaultDBPath returns the default activation database directory.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "activation.db")
}

// DefaultHistoryDir returns the default deployment journal directory.
func DefaultHistoryDir() string {
	return filepath.Join(DataDir(), "history")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "modlinkd.pid")
}

// DefaultStatusPath returns the default daemon status file path.
func DefaultStatusPath() string {
	return filepath.Join(DataDir(), "status.json")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return logging.DefaultLogPath()
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}
