package formula

import (
	"strings"
)

// registerConversionBuiltins registers type conversion and string helpers.
func (e *Evaluator) registerConversionBuiltins() {
	// string(x) - display form of x
	e.RegisterFunction("string", func(args []Value) (Value, error) {
		if err := argCount("string", args, 1, 1); err != nil {
			return nil, err
		}
		if m, ok := args[0].(*Matrix); ok {
			return m.mapValues(func(v Value) (Value, error) { return Format(v), nil })
		}
		return Format(args[0]), nil
	})

	// number(x) - parse a string or convert a boolean
	e.RegisterFunction("number", func(args []Value) (Value, error) {
		if err := argCount("number", args, 1, 1); err != nil {
			return nil, err
		}
		return mapConvert(args[0])
	})

	// typeOf(x) - name of the value's type
	e.RegisterFunction("typeOf", func(args []Value) (Value, error) {
		if err := argCount("typeOf", args, 1, 1); err != nil {
			return nil, err
		}
		return typeName(args[0]), nil
	})

	e.RegisterFunction("upper", stringFunc("upper", strings.ToUpper))
	e.RegisterFunction("lower", stringFunc("lower", strings.ToLower))
	e.RegisterFunction("trim", stringFunc("trim", strings.TrimSpace))
}

func mapConvert(v Value) (Value, error) {
	if m, ok := v.(*Matrix); ok {
		return m.mapValues(mapConvert)
	}
	f, ok := toNumber(v)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %q to a number", Format(v))
	}
	return f, nil
}

func stringFunc(name string, fn func(string) string) BuiltinFunc {
	return func(args []Value) (Value, error) {
		if err := argCount(name, args, 1, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Unexpected type of argument in function %s (expected: string, actual: %s)", name, typeName(args[0]))
		}
		return fn(s), nil
	}
}
