// Package history keeps a journal of deployment operations on disk.
package history

import "time"

// Operation is the kind of journaled operation.
type Operation string

const (
	OpDeploy   Operation = "deploy"
	OpPurge    Operation = "purge"
	OpUndeploy Operation = "undeploy"
	OpSwitch   Operation = "switch"
)

// Record describes one operation on one target directory.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	GameID    string    `json:"game_id"`
	ModType   string    `json:"mod_type"`
	DataPath  string    `json:"data_path"`
	Method    string    `json:"method"`

	// ModID is set for single-mod undeploys.
	ModID string `json:"mod_id,omitempty"`

	Added   int `json:"added"`
	Removed int `json:"removed"`
	Entries int `json:"entries"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the operation failed.
func (r Record) Failed() bool {
	return r.Error != ""
}
