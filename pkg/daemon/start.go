package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// BinaryName is the daemon executable.
const BinaryName = "modlinkd"

// Paths locates the daemon's files. Empty Binary is auto-discovered.
type Paths struct {
	Binary string
	PID    string
	Status string
	Config string // passed to the daemon as --config when set
}

// Start launches the daemon in the background and waits for it to report
// ready or failed through its status file. Returns nil if it is already
// running.
func Start(p Paths) error {
	if IsDaemonRunning(p.PID) {
		return nil
	}

	binary, err := ResolveBinary(p.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", BinaryName, err)
	}

	_ = os.Remove(p.Status)

	var args []string
	if p.Config != "" {
		args = append(args, "--config", p.Config)
	}
	// exec.Command (not CommandContext): the daemon must outlive the caller
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)
		status, err := ReadStatus(p.Status)
		if err != nil {
			continue
		}
		switch status.Status {
		case StatusReady:
			return nil
		case StatusError:
			return fmt.Errorf("daemon failed to start: %s", status.Error)
		}
	}
	return errors.New("daemon did not become ready within timeout")
}

// ResolveBinary finds the daemon binary.
// Priority: configured path > same directory as executable > PATH.
func ResolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), BinaryName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	return "", errors.New(BinaryName + " not found")
}
