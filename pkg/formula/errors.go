package formula

import (
	"errors"
	"fmt"

	"github.com/zurustar/flowsheet/pkg/formula/parser"
)

// ErrorType represents the category of an evaluation failure.
type ErrorType string

const (
	ErrorParse             ErrorType = "PARSE_ERROR"
	ErrorUndefinedSymbol   ErrorType = "UNDEFINED_SYMBOL"
	ErrorUnknownFunction   ErrorType = "UNKNOWN_FUNCTION"
	ErrorTypeMismatch      ErrorType = "TYPE_MISMATCH"
	ErrorDimensionMismatch ErrorType = "DIMENSION_MISMATCH"
	ErrorIndexOutOfRange   ErrorType = "INDEX_OUT_OF_RANGE"
	ErrorArgument          ErrorType = "ARGUMENT_ERROR"
	ErrorSingularMatrix    ErrorType = "SINGULAR_MATRIX"
	ErrorInternal          ErrorType = "INTERNAL"
)

// EvalError describes why an expression could not be evaluated.
type EvalError struct {
	Type    ErrorType
	Message string
	Line    int    // 1-based line of the failing statement, 0 if unknown
	Column  int    // 1-based column, 0 if unknown
	Symbol  string // offending identifier or function name, if any
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] %s at line %d, column %d", e.Type, e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// NewEvalError creates a new EvalError without position information.
func NewEvalError(errType ErrorType, message string) *EvalError {
	return &EvalError{Type: errType, Message: message}
}

func newEvalErrorf(errType ErrorType, format string, args ...any) *EvalError {
	return NewEvalError(errType, fmt.Sprintf(format, args...))
}

func undefinedSymbol(name string) *EvalError {
	err := newEvalErrorf(ErrorUndefinedSymbol, "Undefined symbol %s", name)
	err.Symbol = name
	return err
}

func unknownFunction(name string) *EvalError {
	err := newEvalErrorf(ErrorUnknownFunction, "Unknown function %s", name)
	err.Symbol = name
	return err
}

func fromParseError(err error) *EvalError {
	var perr *parser.Error
	if errors.As(err, &perr) {
		return &EvalError{Type: ErrorParse, Message: perr.Message, Line: perr.Line, Column: perr.Column}
	}
	return NewEvalError(ErrorParse, err.Error())
}

// IsErrorType reports whether err is an *EvalError of the given type.
func IsErrorType(err error, errType ErrorType) bool {
	var eerr *EvalError
	return errors.As(err, &eerr) && eerr.Type == errType
}
