package formula

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// registerMatrixBuiltins registers functions that build or transform
// matrices.
func (e *Evaluator) registerMatrixBuiltins() {
	// size(x) - [n] for a vector, [rows, cols] for a matrix, [] for a scalar
	e.RegisterFunction("size", func(args []Value) (Value, error) {
		if err := argCount("size", args, 1, 1); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case *Matrix:
			size := x.Size()
			values := make([]float64, len(size))
			for i, n := range size {
				values[i] = float64(n)
			}
			return newNumericVector(values), nil
		case string:
			return newNumericVector([]float64{float64(len([]rune(x)))}), nil
		}
		return NewVector(nil), nil
	})

	e.RegisterFunction("transpose", func(args []Value) (Value, error) {
		m, err := matrixArg("transpose", args, 1)
		if err != nil {
			return nil, err
		}
		return transpose(m), nil
	})

	e.RegisterFunction("det", func(args []Value) (Value, error) {
		if err := argCount("det", args, 1, 1); err != nil {
			return nil, err
		}
		if f, ok := args[0].(float64); ok {
			return f, nil
		}
		m, err := matrixArg("det", args, 1)
		if err != nil {
			return nil, err
		}
		return determinant(m)
	})

	e.RegisterFunction("inv", func(args []Value) (Value, error) {
		if err := argCount("inv", args, 1, 1); err != nil {
			return nil, err
		}
		if _, ok := args[0].(*Matrix); !ok {
			x, err := numberArg("inv", args[0])
			if err != nil {
				return nil, err
			}
			if x == 0 {
				return nil, newEvalErrorf(ErrorSingularMatrix, "Cannot calculate inverse, determinant is zero")
			}
			return 1 / x, nil
		}
		m, err := matrixArg("inv", args, 1)
		if err != nil {
			return nil, err
		}
		return inverse(m)
	})

	e.RegisterFunction("trace", func(args []Value) (Value, error) {
		m, err := matrixArg("trace", args, 1)
		if err != nil {
			return nil, err
		}
		if !m.isSquare() {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Matrix must be square (size: %s)", formatSize(m))
		}
		d, err := m.dense()
		if err != nil {
			return nil, err
		}
		return mat.Trace(d), nil
	})

	// identity(n) or identity(rows, cols)
	e.RegisterFunction("identity", func(args []Value) (Value, error) {
		rows, cols, _, err := dimensions("identity", args)
		if err != nil {
			return nil, err
		}
		m := filled(rows, cols, 0.0, false)
		for i := 0; i < rows && i < cols; i++ {
			m.data[i*cols+i] = 1.0
		}
		return m, nil
	})

	// zeros(n) is a vector, zeros(rows, cols) a matrix; ones likewise
	e.RegisterFunction("zeros", func(args []Value) (Value, error) {
		rows, cols, vector, err := dimensions("zeros", args)
		if err != nil {
			return nil, err
		}
		return filled(rows, cols, 0.0, vector), nil
	})
	e.RegisterFunction("ones", func(args []Value) (Value, error) {
		rows, cols, vector, err := dimensions("ones", args)
		if err != nil {
			return nil, err
		}
		return filled(rows, cols, 1.0, vector), nil
	})

	e.RegisterFunction("dot", func(args []Value) (Value, error) {
		if err := argCount("dot", args, 2, 2); err != nil {
			return nil, err
		}
		a, aok := args[0].(*Matrix)
		b, bok := args[1].(*Matrix)
		if !aok || !bok || !a.vector || !b.vector {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Function dot expects two vectors")
		}
		return dotProduct(a, b)
	})

	e.RegisterFunction("cross", func(args []Value) (Value, error) {
		if err := argCount("cross", args, 2, 2); err != nil {
			return nil, err
		}
		a, aok := args[0].(*Matrix)
		b, bok := args[1].(*Matrix)
		if !aok || !bok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Function cross expects two vectors")
		}
		x, err := a.floats()
		if err != nil {
			return nil, err
		}
		y, err := b.floats()
		if err != nil {
			return nil, err
		}
		if len(x) != 3 || len(y) != 3 {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Vectors with length 3 expected (length a: %d, length b: %d)", len(x), len(y))
		}
		return newNumericVector([]float64{
			x[1]*y[2] - x[2]*y[1],
			x[2]*y[0] - x[0]*y[2],
			x[0]*y[1] - x[1]*y[0],
		}), nil
	})

	// norm(x) - Euclidean norm of a vector, Frobenius norm of a matrix
	// norm(x, p) - p-norm; Infinity selects the maximum norm
	e.RegisterFunction("norm", func(args []Value) (Value, error) {
		if err := argCount("norm", args, 1, 2); err != nil {
			return nil, err
		}
		p := 2.0
		if len(args) == 2 {
			var err error
			if p, err = numberArg("norm", args[1]); err != nil {
				return nil, err
			}
		}
		m, ok := args[0].(*Matrix)
		if !ok {
			x, err := numberArg("norm", args[0])
			if err != nil {
				return nil, err
			}
			return math.Abs(x), nil
		}
		if m.Len() == 0 {
			return 0.0, nil
		}
		if m.vector {
			values, err := m.floats()
			if err != nil {
				return nil, err
			}
			return floats.Norm(values, p), nil
		}
		d, err := m.dense()
		if err != nil {
			return nil, err
		}
		return mat.Norm(d, p), nil
	})

	// concat(a, b, ...) - joins strings, vectors, or matrices side by side
	e.RegisterFunction("concat", func(args []Value) (Value, error) {
		if err := argCount("concat", args, 1, -1); err != nil {
			return nil, err
		}
		return concat(args)
	})
}

func matrixArg(name string, args []Value, n int) (*Matrix, error) {
	if err := argCount(name, args, n, n); err != nil {
		return nil, err
	}
	m, ok := args[0].(*Matrix)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Unexpected type of argument in function %s (expected: Matrix, actual: %s)", name, typeName(args[0]))
	}
	return m, nil
}

// dimensions reads (n) or (rows, cols), also accepting a size vector.
func dimensions(name string, args []Value) (rows, cols int, vector bool, err error) {
	if len(args) == 1 {
		if m, ok := args[0].(*Matrix); ok {
			args = make([]Value, len(m.data))
			copy(args, m.data)
		}
	}
	if err := argCount(name, args, 1, 2); err != nil {
		return 0, 0, false, err
	}

	sizes := make([]int, len(args))
	for i, arg := range args {
		f, err := numberArg(name, arg)
		if err != nil {
			return 0, 0, false, err
		}
		if f < 0 || f != math.Trunc(f) || f > 10000 {
			return 0, 0, false, newEvalErrorf(ErrorArgument, "Size must be a non-negative integer up to 10000 (value: %s)", formatNumber(f))
		}
		sizes[i] = int(f)
	}

	rows, cols, vector = 1, sizes[0], true
	switch {
	case len(sizes) == 2:
		rows, cols, vector = sizes[0], sizes[1], false
	case name == "identity":
		rows, vector = sizes[0], false
	}
	if rows*cols > maxRangeLength {
		return 0, 0, false, newEvalErrorf(ErrorArgument, "Matrix too large (%d x %d)", rows, cols)
	}
	return rows, cols, vector, nil
}

func concat(args []Value) (Value, error) {
	allStrings := true
	for _, arg := range args {
		if _, ok := arg.(string); !ok {
			allStrings = false
			break
		}
	}
	if allStrings {
		var b strings.Builder
		for _, arg := range args {
			b.WriteString(arg.(string))
		}
		return b.String(), nil
	}

	matrices := make([]*Matrix, len(args))
	for i, arg := range args {
		m, ok := arg.(*Matrix)
		if !ok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Function concat expects matrices or strings (got %s)", typeName(arg))
		}
		matrices[i] = m
	}

	first := matrices[0]
	if first.vector {
		var data []Value
		for _, m := range matrices {
			if !m.vector {
				return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%s != %s)", formatSize(first), formatSize(m))
			}
			data = append(data, m.data...)
		}
		return NewVector(data), nil
	}

	cols := 0
	for _, m := range matrices {
		if m.vector || m.rows != first.rows {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%s != %s)", formatSize(first), formatSize(m))
		}
		cols += m.cols
	}
	data := make([]Value, 0, first.rows*cols)
	for i := 0; i < first.rows; i++ {
		for _, m := range matrices {
			data = append(data, m.data[i*m.cols:(i+1)*m.cols]...)
		}
	}
	return NewMatrix(first.rows, cols, data), nil
}
