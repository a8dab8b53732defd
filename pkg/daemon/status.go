package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Status values written to the status file.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// StatusFile reports the daemon's startup outcome and what it watches.
type StatusFile struct {
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Game      string    `json:"game,omitempty"`
	Watching  []string  `json:"watching,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// WriteStatusReady writes a ready status file.
func WriteStatusReady(path string, started time.Time, game string, watching []string) error {
	return writeStatus(path, &StatusFile{
		Status:    StatusReady,
		PID:       os.Getpid(),
		StartedAt: started,
		Game:      game,
		Watching:  watching,
	})
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{
		Status: StatusError,
		Error:  err.Error(),
	})
}

func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}
