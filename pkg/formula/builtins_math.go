package formula

import (
	"math"
)

// registerMathBuiltins registers scalar math functions. Each applies
// element-wise to matrices.
func (e *Evaluator) registerMathBuiltins() {
	unary := map[string]func(float64) float64{
		"abs":   math.Abs,
		"sqrt":  math.Sqrt,
		"cbrt":  math.Cbrt,
		"exp":   math.Exp,
		"log10": math.Log10,
		"log2":  math.Log2,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
		"sinh":  math.Sinh,
		"cosh":  math.Cosh,
		"tanh":  math.Tanh,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"fix":   math.Trunc,
		"sign":  sign,
	}
	for name, fn := range unary {
		e.RegisterFunction(name, unaryMath(name, fn))
	}

	// log(x) - natural logarithm
	// log(x, base) - logarithm of x to base
	e.RegisterFunction("log", func(args []Value) (Value, error) {
		if err := argCount("log", args, 1, 2); err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return mapNumeric("log", args[0], math.Log)
		}
		base, err := numberArg("log", args[1])
		if err != nil {
			return nil, err
		}
		return mapNumeric("log", args[0], func(x float64) float64 {
			return math.Log(x) / math.Log(base)
		})
	})

	// round(x) - round half away from zero
	// round(x, n) - round to n decimals
	e.RegisterFunction("round", func(args []Value) (Value, error) {
		if err := argCount("round", args, 1, 2); err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return mapNumeric("round", args[0], math.Round)
		}
		n, err := numberArg("round", args[1])
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 15 || n != math.Trunc(n) {
			return nil, newEvalErrorf(ErrorArgument, "Number of decimals in function round must be an integer from 0 to 15")
		}
		scale := math.Pow(10, n)
		return mapNumeric("round", args[0], func(x float64) float64 {
			return math.Round(x*scale) / scale
		})
	})

	// atan2(y, x)
	e.RegisterFunction("atan2", func(args []Value) (Value, error) {
		if err := argCount("atan2", args, 2, 2); err != nil {
			return nil, err
		}
		y, err := numberArg("atan2", args[0])
		if err != nil {
			return nil, err
		}
		x, err := numberArg("atan2", args[1])
		if err != nil {
			return nil, err
		}
		return math.Atan2(y, x), nil
	})

	// pow(x, y) - same as x ^ y
	e.RegisterFunction("pow", func(args []Value) (Value, error) {
		if err := argCount("pow", args, 2, 2); err != nil {
			return nil, err
		}
		return binaryOp("^", args[0], args[1])
	})

	// mod(x, y) - same as x % y
	e.RegisterFunction("mod", func(args []Value) (Value, error) {
		if err := argCount("mod", args, 2, 2); err != nil {
			return nil, err
		}
		return binaryOp("%", args[0], args[1])
	})

	// hypot(a, b, ...) - square root of the sum of squares
	e.RegisterFunction("hypot", func(args []Value) (Value, error) {
		values, err := collectNumbers("hypot", args)
		if err != nil {
			return nil, err
		}
		sum := 0.0
		for _, v := range values {
			sum += v * v
		}
		return math.Sqrt(sum), nil
	})

	e.RegisterFunction("factorial", func(args []Value) (Value, error) {
		if err := argCount("factorial", args, 1, 1); err != nil {
			return nil, err
		}
		return factorial(args[0])
	})

	// gcd(a, b, ...) and lcm(a, b, ...) on integers
	e.RegisterFunction("gcd", func(args []Value) (Value, error) {
		return foldIntegers("gcd", args, gcd)
	})
	e.RegisterFunction("lcm", func(args []Value) (Value, error) {
		return foldIntegers("lcm", args, func(a, b int64) int64 {
			if a == 0 || b == 0 {
				return 0
			}
			l := a / gcd(a, b) * b
			if l < 0 {
				return -l
			}
			return l
		})
	})
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func unaryMath(name string, fn func(float64) float64) BuiltinFunc {
	return func(args []Value) (Value, error) {
		if err := argCount(name, args, 1, 1); err != nil {
			return nil, err
		}
		return mapNumeric(name, args[0], fn)
	}
}

// mapNumeric applies fn to a number or to every element of a matrix.
func mapNumeric(name string, v Value, fn func(float64) float64) (Value, error) {
	if m, ok := v.(*Matrix); ok {
		return m.mapValues(func(elem Value) (Value, error) {
			return mapNumeric(name, elem, fn)
		})
	}
	x, err := numberArg(name, v)
	if err != nil {
		return nil, err
	}
	return fn(x), nil
}

func numberArg(name string, v Value) (float64, error) {
	if _, ok := v.(*Matrix); ok {
		return 0, newEvalErrorf(ErrorTypeMismatch, "Unexpected type of argument in function %s (expected: number, actual: Matrix)", name)
	}
	f, ok := toNumber(v)
	if !ok {
		return 0, newEvalErrorf(ErrorTypeMismatch, "Unexpected type of argument in function %s (expected: number, actual: %s)", name, typeName(v))
	}
	return f, nil
}

func argCount(name string, args []Value, least, most int) error {
	if len(args) >= least && (most < 0 || len(args) <= most) {
		return nil
	}
	switch {
	case least == most:
		return newEvalErrorf(ErrorArgument, "Wrong number of arguments in function %s (%d provided, %d expected)", name, len(args), least)
	case most < 0:
		return newEvalErrorf(ErrorArgument, "Wrong number of arguments in function %s (%d provided, at least %d expected)", name, len(args), least)
	}
	return newEvalErrorf(ErrorArgument, "Wrong number of arguments in function %s (%d provided, %d-%d expected)", name, len(args), least, most)
}

// collectNumbers flattens scalars and matrices into one list of numbers.
func collectNumbers(name string, args []Value) ([]float64, error) {
	var out []float64
	for _, arg := range args {
		if m, ok := arg.(*Matrix); ok {
			values, err := m.floats()
			if err != nil {
				return nil, err
			}
			out = append(out, values...)
			continue
		}
		f, err := numberArg(name, arg)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func foldIntegers(name string, args []Value, fn func(a, b int64) int64) (Value, error) {
	if err := argCount(name, args, 1, -1); err != nil {
		return nil, err
	}
	values, err := collectNumbers(name, args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, newEvalErrorf(ErrorArgument, "Function %s requires at least one value", name)
	}
	acc := int64(0)
	for i, v := range values {
		if v != math.Trunc(v) {
			return nil, newEvalErrorf(ErrorArgument, "Parameters in function %s must be integer numbers", name)
		}
		if i == 0 {
			acc = int64(v)
			if acc < 0 {
				acc = -acc
			}
			continue
		}
		acc = fn(acc, int64(v))
	}
	return float64(acc), nil
}
