// Package errors provides the error handling primitives used throughout
// cafworker. It wraps github.com/pkg/errors so that call sites get stack
// traces on Wrap/WithStack without depending on the upstream package
// directly, matching the convention the rest of the pack's backends use.
package errors

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// New, Wrap, WithStack, WithMessage, Cause and Is/As mirror github.com/pkg/errors
// and the standard library so the sentinel error taxonomy in taxonomy.go can
// be checked with errors.Is regardless of how deep the error was wrapped.
var (
	New         = pkgerrors.New
	Errorf      = pkgerrors.Errorf
	Wrap        = pkgerrors.Wrap
	Wrapf       = pkgerrors.Wrapf
	WithStack   = pkgerrors.WithStack
	WithMessage = pkgerrors.WithMessage
	Cause       = pkgerrors.Cause
)

var (
	Is = errors.Is
	As = errors.As
)

// fatalError is returned for conditions that require the process to exit
// rather than retry or recover locally.
type fatalError string

func (e fatalError) Error() string {
	return string(e)
}

// Fatal returns an error that is marked fatal; see IsFatal.
func Fatal(s string) error {
	return fatalError(s)
}

// Fatalf creates a fatalError object, similarly to fmt.Errorf.
func Fatalf(s string, args ...interface{}) error {
	return fatalError(Errorf(s, args...).Error())
}

// IsFatal checks whether the error is fatal.
func IsFatal(err error) bool {
	_, ok := err.(fatalError)
	return ok
}
