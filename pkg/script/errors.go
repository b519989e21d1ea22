package script

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a script runtime error.
type ErrorType string

const (
	// ErrorRuntimeNotReady is returned when a runtime has not finished loading.
	ErrorRuntimeNotReady ErrorType = "RUNTIME_NOT_READY"
	// ErrorRuntimeInitFailed marks a runtime that could not be started.
	ErrorRuntimeInitFailed ErrorType = "RUNTIME_INIT_FAILED"
	// ErrorScriptExecution is a failure raised by the user's code.
	ErrorScriptExecution ErrorType = "SCRIPT_EXECUTION"
	// ErrorScriptTimeout is returned when an execution exceeds its deadline.
	ErrorScriptTimeout ErrorType = "SCRIPT_TIMEOUT"
	// ErrorUnsupportedLanguage is returned for unknown script languages.
	ErrorUnsupportedLanguage ErrorType = "UNSUPPORTED_LANGUAGE"
)

// RuntimeError is the error type used by the runtimes and the bridge.
type RuntimeError struct {
	Type    ErrorType
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Kind.Language(), e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a RuntimeError with a formatted message.
func NewRuntimeError(errorType ErrorType, kind Kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Type:    errorType,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapRuntimeError attaches a cause to a new RuntimeError.
func wrapRuntimeError(errorType ErrorType, kind Kind, err error, format string, args ...any) *RuntimeError {
	e := NewRuntimeError(errorType, kind, format, args...)
	e.Err = err
	return e
}

// IsErrorType reports whether err is a RuntimeError of the given type.
func IsErrorType(err error, errorType ErrorType) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Type == errorType
}

// errProcessExited is wrapped by execution errors caused by the
// interpreter process going away.
var errProcessExited = errors.New("interpreter process exited")
