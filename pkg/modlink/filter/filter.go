// Package filter decides which staged files are excluded from deployment.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnore lists files that never belong in a game directory.
var DefaultIgnore = []string{
	"*.modlink-tmp",
	"__folder_managed_by_modlink",
	"meta.ini",
	"fomod/**",
}

// Matcher matches relative paths against compiled glob patterns.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
	fold     bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCaseFold matches patterns case-insensitively.
func WithCaseFold() Option {
	return func(m *Matcher) { m.fold = true }
}

// New compiles patterns. Patterns use '/' as separator and support '**'.
func New(patterns []string, opts ...Option) (*Matcher, error) {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m.fold {
			p = strings.ToLower(p)
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// MustNew is New that panics on an invalid pattern.
func MustNew(patterns []string, opts ...Option) *Matcher {
	m, err := New(patterns, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether relPath or its base name matches any pattern.
// A nil Matcher matches nothing.
func (m *Matcher) Match(relPath string) bool {
	if m == nil || len(m.globs) == 0 {
		return false
	}
	p := strings.TrimPrefix(strings.ReplaceAll(relPath, `\`, "/"), "/")
	if m.fold {
		p = strings.ToLower(p)
	}
	base := path.Base(p)
	for _, g := range m.globs {
		if g.Match(p) || g.Match(base) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
