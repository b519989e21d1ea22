// Package script runs Python and R code against the shared variable scope.
//
// Each language is served by a long-lived interpreter subprocess (a
// Runtime). The Bridge owns one runtime per Kind, tracks its loading
// state, serializes executions per kind and writes the variables a Python
// run produced back into the scope as one batch.
package script

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a runtime.
type Kind string

const (
	// Numeric is the Python runtime.
	Numeric Kind = "numeric"
	// Statistical is the R runtime.
	Statistical Kind = "statistical"
)

// Kinds lists every runtime kind in initialization order.
var Kinds = []Kind{Numeric, Statistical}

// Language returns the user facing language name.
func (k Kind) Language() string {
	switch k {
	case Numeric:
		return "Python"
	case Statistical:
		return "R"
	}
	return string(k)
}

// ParseKind maps a block language to a runtime kind.
func ParseKind(language string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "py", "numeric":
		return Numeric, nil
	case "r", "statistical":
		return Statistical, nil
	}
	return "", NewRuntimeError(ErrorUnsupportedLanguage, "", "unsupported language %q", language)
}

// State is the loading state of a runtime.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the outcome of one successful execution.
type Result struct {
	// Output holds the captured stdout and stderr lines.
	Output []string
	// Globals holds the user variables visible after the run.
	Globals map[string]any
	// Synced is true when Globals should be written back to the scope.
	Synced bool
}

// Runtime is an interpreter that can execute code with a set of variables
// injected beforehand. Implementations are not required to be safe for
// concurrent Exec calls; the Bridge serializes them.
type Runtime interface {
	Kind() Kind
	// Start launches the interpreter and blocks until it is ready.
	Start(ctx context.Context) error
	// Exec injects vars and runs code. Cancelling ctx leaves the runtime
	// unusable; callers restart it.
	Exec(ctx context.Context, code string, vars map[string]any) (*Result, error)
	Close() error
}
