// Package trash deletes staged mod directories, moving them to the system
// trash where available.
package trash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// commandTimeout is the maximum time to wait for trash commands.
const commandTimeout = 30 * time.Second

// Remove deletes path. With useTrash it is moved to the system trash if a
// trash tool is available, otherwise it is deleted permanently. A path that
// does not exist counts as removed.
func Remove(ctx context.Context, path string, useTrash bool) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot remove %q: %w", path, err)
	}
	if !useTrash {
		return fallbackDelete(path)
	}
	return MoveToTrash(ctx, path)
}

// MoveToTrash moves a file or directory to the system trash.
// On macOS: uses AppleScript to move to Trash.
// On Linux: uses gio trash or trash-cli.
// Falls back to permanent delete if no trash available.
func MoveToTrash(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); err != nil {
		return fmt.Errorf("cannot trash %q: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path for %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		return moveToTrashMacOS(ctx, absPath)
	case "linux":
		return moveToTrashLinux(ctx, absPath)
	default:
		return fallbackDelete(absPath)
	}
}

// moveToTrashMacOS uses Finder so "Put Back" works.
func moveToTrashMacOS(ctx context.Context, path string) error {
	script := fmt.Sprintf(`tell application "Finder" to delete POSIX file %q`, path)
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fallbackDelete(path)
	}
	return nil
}

func moveToTrashLinux(ctx context.Context, path string) error {
	// gio covers GNOME/GTK desktops, trash-put everything XDG compliant.
	if gioPath, err := exec.LookPath("gio"); err == nil {
		cmd := exec.CommandContext(ctx, gioPath, "trash", path)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	if trashPath, err := exec.LookPath("trash-put"); err == nil {
		cmd := exec.CommandContext(ctx, trashPath, path)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	return fallbackDelete(path)
}

// fallbackDelete permanently removes a file or directory.
func fallbackDelete(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}
	return nil
}
