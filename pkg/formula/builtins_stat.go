package formula

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// registerStatBuiltins registers aggregate functions. They accept any mix
// of numbers and matrices and aggregate over every element.
func (e *Evaluator) registerStatBuiltins() {
	aggregates := map[string]func([]float64) float64{
		"min":  floats.Min,
		"max":  floats.Max,
		"sum":  floats.Sum,
		"prod": floats.Prod,
		"mean": func(x []float64) float64 { return stat.Mean(x, nil) },
		"median": func(x []float64) float64 {
			sorted := append([]float64(nil), x...)
			sort.Float64s(sorted)
			mid := len(sorted) / 2
			if len(sorted)%2 == 1 {
				return sorted[mid]
			}
			return (sorted[mid-1] + sorted[mid]) / 2
		},
		// Sample statistics, normalized by n-1
		"std":      func(x []float64) float64 { return stat.StdDev(x, nil) },
		"variance": func(x []float64) float64 { return stat.Variance(x, nil) },
	}

	for name, fn := range aggregates {
		e.RegisterFunction(name, aggregate(name, fn))
	}
}

func aggregate(name string, fn func([]float64) float64) BuiltinFunc {
	return func(args []Value) (Value, error) {
		if err := argCount(name, args, 1, -1); err != nil {
			return nil, err
		}
		values, err := collectNumbers(name, args)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			if name == "sum" {
				return 0.0, nil
			}
			if name == "prod" {
				return 1.0, nil
			}
			return nil, newEvalErrorf(ErrorArgument, "Cannot calculate %s of an empty array", name)
		}
		return fn(values), nil
	}
}
