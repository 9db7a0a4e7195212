package o11y

import (
	"context"
	"errors"
)

// NewWarning returns an error that is reported on spans as a warning rather than an error.
// No two errors created with NewWarning will be tested as equal with Is.
func NewWarning(warn string) error {
	return &warningError{msg: warn}
}

// sentinel used with errors.Is in IsWarning
var errWarning = errors.New("")

// IsWarning returns true if any error in the chain is a warning.
func IsWarning(err error) bool {
	return errors.Is(err, errWarning)
}

// DontErrorTrace returns true for warnings and context cancellation or deadline errors.
func DontErrorTrace(err error) bool {
	return IsWarning(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type warningError struct {
	msg string
}

func (e *warningError) Error() string {
	return e.msg
}

func (e *warningError) Unwrap() error {
	return errWarning
}

// IsWarningNoUnwrap reports whether err is the warning sentinel itself. It is for Is methods
// on error types that want to be treated as warnings in some states.
func IsWarningNoUnwrap(err error) bool {
	return err == errWarning //nolint:errorlint // deliberately not unwrapping
}
