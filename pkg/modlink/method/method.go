// Package method defines the deployment method contract and its
// implementations.
//
// A Method projects staged mod files into a target directory. Methods are
// stateless: everything that changes during one operation on one directory
// lives in a *Session created by Prepare and threaded through Activate,
// Deactivate, Finalize, and Purge by the caller.
//
// No Method ever deletes or overwrites a path that is not recorded as
// engine-owned in the manifest passed to Prepare and verified on disk.
package method

import (
	"context"
	"fmt"

	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Kind is the filesystem mechanism a method uses.
type Kind string

const (
	KindSymlink  Kind = "symlink"
	KindHardlink Kind = "hardlink"
	KindCopy     Kind = "copy"
)

// Capabilities describes what a method needs and guarantees.
type Capabilities struct {
	Kind Kind `json:"kind"`

	// SameDevice requires staging and target on one filesystem.
	SameDevice bool `json:"same_device"`

	// RequiresSymlinks requires the platform to allow symlink creation.
	RequiresSymlinks bool `json:"requires_symlinks"`

	// Reversible means every deployed file can be removed without data loss.
	Reversible bool `json:"reversible"`
}

// Descriptor identifies a method.
type Descriptor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Capabilities Capabilities `json:"capabilities"`
}

// SupportQuery describes one directory a method would have to serve.
type SupportQuery struct {
	GameID      string
	ModType     string
	DataPath    string
	StagingPath string
}

// UnsupportedError explains why a method cannot serve a query.
type UnsupportedError struct {
	Method  string
	ModType string
	Reason  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("deployment method %q does not support mod type %q: %s", e.Method, e.ModType, e.Reason)
}

// Method is a pluggable deployment strategy.
type Method interface {
	// Descriptor returns the method's identity.
	Descriptor() Descriptor

	// IsSupported returns nil when the method can serve q, or an
	// *UnsupportedError. It performs no writes.
	IsSupported(q SupportQuery) error

	// Prepare verifies last against the files in dataPath and returns the
	// session for one operation. Entries whose file was deleted or changed
	// outside the engine are dropped and reported. When forDeployment is
	// true the working set starts empty and is rebuilt by Activate;
	// otherwise it starts from the verified entries.
	Prepare(ctx context.Context, dataPath string, forDeployment bool, last *types.Manifest, n normalize.Func) (*Session, error)

	// Activate adds one mod's staged files to the working set. It is
	// idempotent.
	Activate(ctx context.Context, s *Session, stagingPath string, mod types.Mod) error

	// Deactivate removes one mod's files from the working set. It is a
	// no-op for a mod that is not active.
	Deactivate(ctx context.Context, s *Session, installationPath string, mod types.Mod) error

	// Finalize applies the difference between the verified entries and
	// the working set to disk and returns the resulting manifest. When it
	// returns without error the directory matches the manifest. On error
	// the directory is rolled back and no manifest is returned.
	Finalize(ctx context.Context, s *Session, gameID, installationPath string) (*types.Manifest, error)

	// Purge removes every verified entry from disk regardless of the
	// working set. Entries that could not be removed stay in the session.
	Purge(ctx context.Context, s *Session, installationPath string) error
}
