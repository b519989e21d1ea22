package formula

import (
	"math"
)

// binaryOp applies an arithmetic or comparison operator. Scalars broadcast
// over matrices for the element-wise operators.
func binaryOp(op string, left, right Value) (Value, error) {
	lm, lIsMatrix := left.(*Matrix)
	rm, rIsMatrix := right.(*Matrix)

	switch op {
	case "*":
		if lIsMatrix && rIsMatrix {
			return multiply(lm, rm)
		}
	case "/":
		if lIsMatrix && rIsMatrix {
			inv, err := inverse(rm)
			if err != nil {
				return nil, err
			}
			return multiply(lm, inv)
		}
		if rIsMatrix {
			inv, err := inverse(rm)
			if err != nil {
				return nil, err
			}
			return elementwise("*", left, inv)
		}
	case "^":
		if lIsMatrix {
			exponent, ok := right.(float64)
			if !ok {
				return nil, newEvalErrorf(ErrorTypeMismatch, "For A^b, b must be a number (type is %s)", typeName(right))
			}
			return matrixPower(lm, exponent)
		}
		if rIsMatrix {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot raise a number to a matrix power")
		}
	}

	if lIsMatrix || rIsMatrix {
		return elementwise(op, left, right)
	}
	return scalarOp(op, left, right)
}

// elementwise applies op element by element. Both matrices must have the
// same size; a scalar operand is broadcast.
func elementwise(op string, left, right Value) (Value, error) {
	lm, lIsMatrix := left.(*Matrix)
	rm, rIsMatrix := right.(*Matrix)

	if lIsMatrix && rIsMatrix {
		if !sameShape(lm, rm) {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%s != %s)", formatSize(lm), formatSize(rm))
		}
		out := make([]Value, len(lm.data))
		for i := range lm.data {
			v, err := binaryOp(op, lm.data[i], rm.data[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return &Matrix{rows: lm.rows, cols: lm.cols, vector: lm.vector, data: out}, nil
	}

	if lIsMatrix {
		return lm.mapValues(func(v Value) (Value, error) { return binaryOp(op, v, right) })
	}
	return rm.mapValues(func(v Value) (Value, error) { return binaryOp(op, left, v) })
}

func scalarOp(op string, left, right Value) (Value, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(op, left, right)
	}

	// + on a non-numeric string concatenates
	if op == "+" {
		ls, lIsString := left.(string)
		rs, rIsString := right.(string)
		if (lIsString && !isNumericString(ls)) || (rIsString && !isNumericString(rs)) {
			return Format(left) + Format(right), nil
		}
	}

	a, ok := toNumber(left)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %q to a number", Format(left))
	}
	b, ok := toNumber(right)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %q to a number", Format(right))
	}

	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*", ".*":
		return a * b, nil
	case "/", "./":
		return a / b, nil
	case "%":
		return mod(a, b), nil
	case "^", ".^":
		return math.Pow(a, b), nil
	}
	return nil, newEvalErrorf(ErrorInternal, "unknown operator %s", op)
}

// mod follows the floored definition; mod(x, 0) is x.
func mod(x, y float64) float64 {
	if y == 0 {
		return x
	}
	return x - y*math.Floor(x/y)
}

func looseEqual(left, right Value) bool {
	ls, lIsString := left.(string)
	rs, rIsString := right.(string)
	if lIsString && rIsString {
		return ls == rs
	}
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	a, aok := toNumber(left)
	b, bok := toNumber(right)
	if aok && bok {
		return a == b
	}
	return Equal(left, right)
}

func compare(op string, left, right Value) (Value, error) {
	ls, lIsString := left.(string)
	rs, rIsString := right.(string)
	if lIsString && rIsString && !(isNumericString(ls) && isNumericString(rs)) {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}

	a, ok := toNumber(left)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot compare %s with %s", typeName(left), typeName(right))
	}
	b, ok := toNumber(right)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot compare %s with %s", typeName(left), typeName(right))
	}
	switch op {
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	default:
		return a >= b, nil
	}
}

func unaryOp(op string, operand Value) (Value, error) {
	if m, ok := operand.(*Matrix); ok {
		return m.mapValues(func(v Value) (Value, error) { return unaryOp(op, v) })
	}

	switch op {
	case "not":
		b, err := truthy(operand)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case "-", "+":
		n, ok := toNumber(operand)
		if !ok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %q to a number", Format(operand))
		}
		if op == "-" {
			return -n, nil
		}
		return n, nil
	case "!":
		return factorial(operand)
	}
	return nil, newEvalErrorf(ErrorInternal, "unknown operator %s", op)
}

func factorial(v Value) (Value, error) {
	if m, ok := v.(*Matrix); ok {
		return m.mapValues(factorial)
	}
	n, ok := toNumber(v)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %q to a number", Format(v))
	}
	if n < 0 || n != math.Trunc(n) {
		if n < 0 && n == math.Trunc(n) {
			return nil, newEvalErrorf(ErrorArgument, "Value must be non-negative (value is %s)", formatNumber(n))
		}
		return math.Gamma(n + 1), nil
	}
	if n > 170 {
		return math.Inf(1), nil
	}
	result := 1.0
	for i := 2.0; i <= n; i++ {
		result *= i
	}
	return result, nil
}
