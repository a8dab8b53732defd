// Package deployerr defines the error kinds surfaced by the deployment engine.
//
// Every failure that leaves a directory pipeline is converted into one of a
// closed set of kinds so callers can decide whether to retry, ask the user,
// or stay silent.
package deployerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
)

// Kind classifies a deployment failure.
type Kind int

const (
	// KindUnknown is an error that was never classified.
	KindUnknown Kind = iota
	// KindTemporary is a transient I/O failure. Retrying the directory is safe.
	KindTemporary
	// KindProcessCanceled means the operation is impossible right now.
	KindProcessCanceled
	// KindUserCanceled is an explicit abort by the user. It is never reported.
	KindUserCanceled
	// KindIntegrity means the target directory cannot be reconciled.
	KindIntegrity
	// KindFatal is a structural failure such as missing permissions.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTemporary:
		return "temporary"
	case KindProcessCanceled:
		return "process-canceled"
	case KindUserCanceled:
		return "user-canceled"
	case KindIntegrity:
		return "integrity"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified deployment error.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrTemporary) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Path == "" && t.Err == nil
	}
	return false
}

// Kind sentinels for errors.Is.
var (
	ErrTemporary       = &Error{Kind: KindTemporary}
	ErrProcessCanceled = &Error{Kind: KindProcessCanceled}
	ErrUserCanceled    = &Error{Kind: KindUserCanceled}
	ErrIntegrity       = &Error{Kind: KindIntegrity}
	ErrFatal           = &Error{Kind: KindFatal}
)

// Temporary wraps err as a transient failure.
func Temporary(op, path string, err error) *Error {
	return &Error{Kind: KindTemporary, Op: op, Path: path, Err: err}
}

// ProcessCanceled reports that an operation cannot proceed.
func ProcessCanceled(format string, args ...any) *Error {
	return &Error{Kind: KindProcessCanceled, Message: fmt.Sprintf(format, args...)}
}

// UserCanceled reports an explicit user abort.
func UserCanceled(op string) *Error {
	return &Error{Kind: KindUserCanceled, Op: op, Message: "canceled by user"}
}

// Integrity reports an unreconcilable target directory.
func Integrity(op, path string, err error) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Path: path, Err: err}
}

// Fatal wraps err as a structural failure.
func Fatal(op, path string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify converts any error into a classified *Error. Errors that already
// carry a kind are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var path string
	var pe *fs.PathError
	if errors.As(err, &pe) {
		path = pe.Path
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		path = le.New
	}

	switch {
	case errors.Is(err, context.Canceled):
		return UserCanceled(op)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE):
		return Temporary(op, path, err)
	default:
		return Fatal(op, path, err)
	}
}

// Suppressed reports whether err should be hidden from the user.
func Suppressed(err error) bool {
	return KindOf(err) == KindUserCanceled
}

// Retryable reports whether retrying the operation may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindTemporary
}

// Remedy suggests a recovery action for an error kind.
func Remedy(k Kind) string {
	switch k {
	case KindTemporary:
		return "retry the deployment"
	case KindProcessCanceled:
		return "select or install a supported deployment method"
	case KindIntegrity, KindFatal:
		return "purge and redeploy"
	default:
		return ""
	}
}
