// Package output renders deployment status reports in various formats
// (pretty, tsv, json, yaml).
//
// The package uses a registry pattern so formatters can be selected at
// runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntryInfo is one deployed file.
type EntryInfo struct {
	RelPath string    `json:"rel_path" yaml:"rel_path"`
	Source  string    `json:"source" yaml:"source"`
	Time    time.Time `json:"time" yaml:"time"`
}

// Directory summarizes the activation manifest of one target directory.
type Directory struct {
	ModType  string `json:"mod_type" yaml:"mod_type"`
	DataPath string `json:"data_path" yaml:"data_path"`
	Method   string `json:"method" yaml:"method"`

	// Files is the number of engine-owned files.
	Files int `json:"files" yaml:"files"`

	// Sources counts files per providing mod.
	Sources map[string]int `json:"sources,omitempty" yaml:"sources,omitempty"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Updated is UpdatedAt relative to now, e.g. "3 minutes ago".
	Updated string `json:"updated" yaml:"updated"`

	// Foreign is set when another installation wrote the manifest.
	Foreign bool `json:"foreign,omitempty" yaml:"foreign,omitempty"`

	// Blocked is set when deployments to the directory are suspended.
	Blocked bool `json:"blocked,omitempty" yaml:"blocked,omitempty"`

	// Entries is only filled for verbose reports.
	Entries []EntryInfo `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// ModInfo describes one staged mod.
type ModInfo struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	State    string `json:"state" yaml:"state"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Priority int    `json:"priority" yaml:"priority"`

	// Deployed is the number of files the mod currently owns.
	Deployed int `json:"deployed" yaml:"deployed"`
}

// HistoryInfo is one journaled operation.
type HistoryInfo struct {
	ID        string    `json:"id" yaml:"id"`
	Time      time.Time `json:"time" yaml:"time"`
	Age       string    `json:"age" yaml:"age"`
	Operation string    `json:"operation" yaml:"operation"`
	ModType   string    `json:"mod_type" yaml:"mod_type"`
	DataPath  string    `json:"data_path" yaml:"data_path"`
	Method    string    `json:"method" yaml:"method"`
	ModID     string    `json:"mod_id,omitempty" yaml:"mod_id,omitempty"`
	Added     int       `json:"added" yaml:"added"`
	Removed   int       `json:"removed" yaml:"removed"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the data handed to formatters.
type Report struct {
	GameID   string `json:"game_id" yaml:"game_id"`
	GameName string `json:"game_name" yaml:"game_name"`

	// Method is the configured deployment method.
	Method string `json:"method" yaml:"method"`

	Discovery   string `json:"discovery,omitempty" yaml:"discovery,omitempty"`
	StagingPath string `json:"staging_path,omitempty" yaml:"staging_path,omitempty"`

	// Necessary reports that deployed files are stale.
	Necessary bool `json:"deployment_necessary" yaml:"deployment_necessary"`

	DaemonUp bool `json:"daemon_up" yaml:"daemon_up"`

	Directories []Directory   `json:"directories" yaml:"directories"`
	Mods        []ModInfo     `json:"mods,omitempty" yaml:"mods,omitempty"`
	History     []HistoryInfo `json:"history,omitempty" yaml:"history,omitempty"`
	Warnings    []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// TotalFiles returns the number of deployed files across directories.
func (r *Report) TotalFiles() int {
	var n int
	for _, d := range r.Directories {
		n += d.Files
	}
	return n
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
