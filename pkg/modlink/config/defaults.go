// Package config provides configuration management for modlink.
package config

import "github.com/jamesainslie/modlink/pkg/modlink/filter"

// Default configuration values for modlink.
const (
	// DefaultConcurrency is the number of target directories processed at once.
	DefaultConcurrency = 4

	// DefaultRetentionDays is the default number of days to retain history records.
	DefaultRetentionDays = 30

	// DefaultDebounce is how long the daemon waits for staging changes to settle.
	DefaultDebounce = "2s"
)

// DefaultMethods is the method preference order.
var DefaultMethods = []string{"hardlink", "symlink", "copy"}

// DefaultIgnore returns the deploy ignore patterns.
func DefaultIgnore() []string {
	return append([]string(nil), filter.DefaultIgnore...)
}
