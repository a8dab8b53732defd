// Package normalize builds canonical path comparison functions for target
// directories.
//
// A Func is tied to one directory: it knows whether that directory's
// filesystem is case sensitive, and maps relative paths to a canonical form
// that compares equal exactly when the filesystem would resolve both to the
// same file.
package normalize

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jamesainslie/modlink/pkg/modlink/logging"
)

// Func canonicalizes paths for one directory.
type Func interface {
	// Normalize returns the canonical form of p.
	Normalize(p string) string
	// Equal reports whether a and b name the same file.
	Equal(a, b string) bool
	// Dir returns the canonical form of an absolute directory path. Unlike
	// Normalize it keeps the path absolute and its separators native.
	Dir(p string) string
	// CaseSensitive reports what the probe found.
	CaseSensitive() bool
}

// Options selects which transformations are applied.
type Options struct {
	// Separators converts backslashes to '/' and cleans the path.
	Separators bool
	// Unicode applies NFC composition.
	Unicode bool
	// Relative strips leading "/" and "./".
	Relative bool
}

// DefaultOptions enables every transformation.
func DefaultOptions() Options {
	return Options{Separators: true, Unicode: true, Relative: true}
}

type fn struct {
	sensitive bool
	opts      Options
	fold      cases.Caser
	mu        sync.Mutex
}

// Normalize implements Func.
func (f *fn) Normalize(p string) string {
	if f.opts.Separators {
		p = strings.ReplaceAll(p, `\`, "/")
		p = path.Clean(p)
		if p == "." {
			p = ""
		}
	}
	if f.opts.Relative {
		p = strings.TrimLeft(strings.TrimPrefix(p, "./"), "/")
	}
	if f.opts.Unicode {
		p = norm.NFC.String(p)
	}
	if !f.sensitive {
		// cases.Caser is not safe for concurrent use.
		f.mu.Lock()
		p = f.fold.String(p)
		f.mu.Unlock()
	}
	return p
}

// Equal implements Func.
func (f *fn) Equal(a, b string) bool {
	return f.Normalize(a) == f.Normalize(b)
}

// Dir implements Func.
func (f *fn) Dir(p string) string {
	p = filepath.Clean(p)
	if f.opts.Unicode {
		p = norm.NFC.String(p)
	}
	if !f.sensitive {
		f.mu.Lock()
		p = f.fold.String(p)
		f.mu.Unlock()
	}
	return p
}

// CaseSensitive implements Func.
func (f *fn) CaseSensitive() bool {
	return f.sensitive
}

// NewFunc builds a Func with a known case sensitivity, without probing.
func NewFunc(caseSensitive bool, opts Options) Func {
	return &fn{sensitive: caseSensitive, opts: opts, fold: cases.Fold()}
}

// New probes dir and returns a Func for it. When dir does not exist its
// nearest existing ancestor is probed. When probing is impossible the
// platform default is used.
func New(ctx context.Context, dir string, opts Options) (Func, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sensitive, err := Probe(dir)
	if err != nil {
		sensitive = platformDefault()
		logging.Get("normalize").Warn("case sensitivity probe failed, using platform default",
			"dir", dir, "case_sensitive", sensitive, "error", err)
	}
	return NewFunc(sensitive, opts), nil
}

// Probe reports whether the filesystem holding dir is case sensitive. It
// creates a short-lived mixed-case file and looks it up with its case
// swapped.
func Probe(dir string) (bool, error) {
	target, err := existingAncestor(dir)
	if err != nil {
		return false, err
	}

	name := ".modlink-Probe-" + uuid.NewString()[:8]
	probe := filepath.Join(target, name)
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return false, err
	}
	_ = f.Close()
	defer func() { _ = os.Remove(probe) }()

	_, err = os.Lstat(filepath.Join(target, swapCase(name)))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	default:
		return false, err
	}
}

func existingAncestor(dir string) (string, error) {
	dir = filepath.Clean(dir)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return "", &os.PathError{Op: "probe", Path: dir, Err: errors.New("not a directory")}
			}
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		dir = parent
	}
}

func swapCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func platformDefault() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "darwin"
}
