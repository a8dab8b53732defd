package deployerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DirError is the failure of one target directory.
type DirError struct {
	ModType  string
	DataPath string
	Err      error
}

func (d DirError) Error() string {
	return fmt.Sprintf("mod type %q at %s: %v", d.ModType, d.DataPath, d.Err)
}

func (d DirError) Unwrap() error {
	return d.Err
}

// MultiError collects independent per-directory failures.
type MultiError struct {
	Errors []DirError
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d directories failed: %s", len(m.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes each directory error to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	errs := make([]error, len(m.Errors))
	for i := range m.Errors {
		errs[i] = m.Errors[i]
	}
	return errs
}

// Add records a failure. UserCanceled errors are dropped.
func (m *MultiError) Add(modType, dataPath string, err error) {
	if err == nil || Suppressed(err) {
		return
	}
	m.Errors = append(m.Errors, DirError{ModType: modType, DataPath: dataPath, Err: err})
}

// ErrorOrNil returns nil when no failures were recorded.
func (m *MultiError) ErrorOrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	sort.Slice(m.Errors, func(i, j int) bool {
		if m.Errors[i].ModType != m.Errors[j].ModType {
			return m.Errors[i].ModType < m.Errors[j].ModType
		}
		return m.Errors[i].DataPath < m.Errors[j].DataPath
	})
	return m
}

// Worst returns the most severe kind among the collected failures.
func Worst(err error) Kind {
	var m *MultiError
	if !errors.As(err, &m) {
		return KindOf(err)
	}
	worst := KindUnknown
	for _, e := range m.Errors {
		if k := KindOf(e.Err); severity(k) > severity(worst) {
			worst = k
		}
	}
	return worst
}

func severity(k Kind) int {
	switch k {
	case KindUserCanceled:
		return 0
	case KindTemporary:
		return 1
	case KindProcessCanceled:
		return 2
	case KindIntegrity:
		return 3
	case KindFatal:
		return 4
	default:
		return 0
	}
}
