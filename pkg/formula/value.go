package formula

import (
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula/ast"
)

// Value is anything an expression can produce or a scope can hold:
// float64, string, bool, nil, *Matrix, map[string]any, *Function,
// ResultSet or a Sentinel.
type Value = any

// Sentinel is a distinguished evaluation result that is not a value of the
// language.
type Sentinel string

const (
	// Error is returned for any evaluation failure.
	Error Sentinel = "Error"
	// Empty is returned for blank input.
	Empty Sentinel = ""
)

// IsError reports whether v is the Error sentinel.
func IsError(v Value) bool {
	s, ok := v.(Sentinel)
	return ok && s == Error
}

// IsEmpty reports whether v is the Empty sentinel.
func IsEmpty(v Value) bool {
	s, ok := v.(Sentinel)
	return ok && s == Empty
}

// ResultSet holds the visible results of a multi-statement expression in
// source order.
type ResultSet []Value

// Function is a function defined inside a formula, e.g. f(x) = x^2.
type Function struct {
	Name   string
	Params []string
	Body   ast.Expression
	env    *environment
}

func (f *Function) String() string {
	return f.Name + "(" + strings.Join(f.Params, ", ") + ")"
}

// Normalize converts a scope value into the evaluator's value model.
// Integers become float64 and slices become *Matrix; everything else is
// returned unchanged.
func Normalize(v any) Value {
	switch x := v.(type) {
	case nil, float64, string, bool, *Matrix, map[string]any, *Function, ResultSet, Sentinel:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		return matrixFromSlice(reflect.ValueOf(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		return matrixFromSlice(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = iter.Value().Interface()
			}
			return out
		}
	}
	return v
}

// matrixFromSlice builds a vector from a flat slice or a matrix from a
// slice of slices. Ragged rows are padded with empty strings.
func matrixFromSlice(rv reflect.Value) Value {
	n := rv.Len()
	if n == 0 {
		return NewVector(nil)
	}

	nested := true
	cols := 0
	for i := 0; i < n; i++ {
		elem := reflect.ValueOf(rv.Index(i).Interface())
		if elem.Kind() != reflect.Slice && elem.Kind() != reflect.Array {
			nested = false
			break
		}
		if elem.Len() > cols {
			cols = elem.Len()
		}
	}

	if !nested {
		values := make([]Value, n)
		for i := 0; i < n; i++ {
			values[i] = scalar(rv.Index(i).Interface())
		}
		return NewVector(values)
	}

	data := make([]Value, 0, n*cols)
	for i := 0; i < n; i++ {
		row := reflect.ValueOf(rv.Index(i).Interface())
		for j := 0; j < cols; j++ {
			if j < row.Len() {
				data = append(data, scalar(row.Index(j).Interface()))
			} else {
				data = append(data, "")
			}
		}
	}
	return NewMatrix(n, cols, data)
}

// scalar normalizes a matrix element. Deeper nesting is kept as is.
func scalar(v any) Value {
	switch v.(type) {
	case []any:
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return v
	}
	return Normalize(v)
}

// toNumber converts a value to float64. Numeric strings are parsed so that
// table cells take part in arithmetic; booleans count as 0 and 1; null is 0.
func toNumber(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case nil:
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, true
		}
		switch s {
		case "Infinity", "+Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if n, ierr := strconv.ParseInt(s, 0, 64); ierr == nil {
				return float64(n), true
			}
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// isNumericString reports whether s would be converted to a number.
func isNumericString(s string) bool {
	_, ok := toNumber(s)
	return ok
}

func truthy(v Value) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0 && !math.IsNaN(x), nil
	case string:
		return x != "", nil
	case nil:
		return false, nil
	}
	return false, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %s to boolean", typeName(v))
}

func typeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case *Matrix:
		return "Matrix"
	case map[string]any:
		return "Object"
	case *Function:
		return "function"
	case ResultSet:
		return "ResultSet"
	case Sentinel:
		if x == Error {
			return "error"
		}
		return "empty"
	}
	return reflect.TypeOf(v).String()
}

// Equal reports whether two values are the same for change detection.
// NaN equals NaN, matrices compare by shape and elements, and functions
// by definition and the values their bodies read.
func Equal(a, b Value) bool {
	a, b = Normalize(a), Normalize(b)
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false
		}
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case *Matrix:
		y, ok := b.(*Matrix)
		if !ok || !sameShape(x, y) {
			return false
		}
		for i := range x.data {
			if !Equal(x.data[i], y.data[i]) {
				return false
			}
		}
		return true
	case ResultSet:
		y, ok := b.(ResultSet)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case *Function:
		y, ok := b.(*Function)
		return ok && sameFunction(x, y, 0)
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// maxFunctionDepth bounds the comparison of functions that call each other.
const maxFunctionDepth = 8

// sameFunction reports whether x and y have the same name, parameters and
// body, and whether every free variable of the body resolves to an equal
// value in both definitions.
func sameFunction(x, y *Function, depth int) bool {
	if x == y {
		return true
	}
	if x == nil || y == nil || depth > maxFunctionDepth {
		return false
	}
	if x.Name != y.Name || !slices.Equal(x.Params, y.Params) {
		return false
	}
	if x.Body == nil || y.Body == nil {
		return x.Body == nil && y.Body == nil
	}
	if x.Body.String() != y.Body.String() {
		return false
	}

	for _, name := range x.freeNames() {
		xv, xok := x.capture(name)
		yv, yok := y.capture(name)
		if xok != yok {
			return false
		}
		if !xok {
			continue
		}
		xf, xIsFn := xv.(*Function)
		yf, yIsFn := yv.(*Function)
		switch {
		case xIsFn && yIsFn:
			if !sameFunction(xf, yf, depth+1) {
				return false
			}
		case !Equal(xv, yv):
			return false
		}
	}
	return true
}

// freeNames returns the names the body reads besides its parameters and
// the function itself.
func (f *Function) freeNames() []string {
	eval := defaultEvaluator()
	if f.env != nil {
		eval = f.env.eval
	}
	params := make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		params[p] = true
	}
	w := &refWalker{
		eval:  eval,
		bound: map[string]bool{f.Name: true},
		seen:  make(map[string]bool),
	}
	w.walk(f.Body, params)
	return w.refs
}

// capture resolves name in the environment f was defined in.
func (f *Function) capture(name string) (Value, bool) {
	if f.env == nil {
		return nil, false
	}
	return f.env.lookup(name)
}
