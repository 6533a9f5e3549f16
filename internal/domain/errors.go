package domain

import (
	"errors"
	"fmt"
)

// Kind is the closed classification of failures used for retry and outcome decisions.
type Kind string

const (
	KindConnection    Kind = "connection"
	KindAutomation    Kind = "automation"
	KindStorage       Kind = "storage"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
)

// ErrElementNotFound reports that no element matched a locator within the wait bound.
var ErrElementNotFound = errors.New("element not found")

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string; %w verbs are preserved.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first kinded error in err's chain.
func KindOf(err error) (Kind, bool) {
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
