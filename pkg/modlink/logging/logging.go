// Package logging provides component loggers for modlink. The CLI and the
// daemon share one rotating log file; the CLI can additionally mirror
// records to stderr.
//
//	if err := logging.Init(logging.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("deploy")
//	log.Info("directory deployed", "mod_type", modType, "entries", n)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default file log level.
	Level string

	// Path is the log file. Empty uses DefaultLogPath().
	Path string

	// Format is "text" (default) or "json" for the file output.
	Format string

	Rotation RotationConfig

	// Components overrides the level per component name.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string
}

// Logger writes records for one component.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
}

func (l *Logger) Debug(msg string, args ...any) { l.emit(LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(LevelError, msg, args) }

func (l *Logger) emit(level Level, msg string, args []any) {
	write(l.file, level, msg, args)
	if l.console != nil {
		write(l.console, level, msg, args)
	}
}

func write(lg *log.Logger, level Level, msg string, args []any) {
	switch level {
	case LevelDebug:
		lg.Debug(msg, args...)
	case LevelInfo:
		lg.Info(msg, args...)
	case LevelWarn:
		lg.Warn(msg, args...)
	case LevelError:
		lg.Error(msg, args...)
	}
}

// With returns a logger that adds key/value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	out := &Logger{file: l.file.With(args...), component: l.component}
	if l.console != nil {
		out.console = l.console.With(args...)
	}
	return out
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      *RotatingWriter
	cfg         Config
	level       Level
	console     Level
	consoleOn   bool
	components  map[string]Level
	loggers     map[string]*Logger
}

var global = &state{
	loggers:    make(map[string]*Logger),
	components: make(map[string]Level),
}

// Init configures logging. Loggers obtained earlier are rebuilt so they
// pick up the new outputs. Before Init, all output is discarded.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	components := make(map[string]Level, len(cfg.Components))
	for name, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", name, err)
		}
		components[name] = parsed
	}
	var console Level
	if cfg.ConsoleLevel != "" {
		if console, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.cfg = cfg
	global.level = level
	global.components = components
	global.console = console
	global.consoleOn = cfg.ConsoleLevel != ""
	global.initialized = true

	for name, lg := range global.loggers {
		*lg = *build(name)
	}
	return nil
}

// Get returns the shared logger for a component.
func Get(component string) *Logger {
	global.mu.RLock()
	lg, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return lg
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if lg, ok := global.loggers[component]; ok {
		return lg
	}
	lg = build(component)
	global.loggers[component] = lg
	return lg
}

// build must be called with global.mu held.
func build(component string) *Logger {
	level := global.level
	if l, ok := global.components[component]; ok {
		level = l
	}

	if !global.initialized {
		return &Logger{
			file:      log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
			component: component,
		}
	}

	opts := log.Options{
		Level:           level.charm(),
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	}
	if global.cfg.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	lg := &Logger{
		file:      log.NewWithOptions(global.writer, opts),
		component: component,
	}
	if global.consoleOn {
		lg.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           global.console.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Prefix:          component,
		})
	}
	return lg
}

// Close flushes the log file and resets all loggers to discard.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.initialized {
		return nil
	}
	var err error
	if global.writer != nil {
		err = global.writer.Close()
		global.writer = nil
	}
	global.initialized = false
	global.components = make(map[string]Level)
	for name, lg := range global.loggers {
		*lg = *build(name)
	}
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/modlink/modlink.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "modlink", "modlink.log")
}

// DefaultConfig returns info-level file logging with default rotation.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Format:   "text",
		Rotation: DefaultRotationConfig(),
	}
}
