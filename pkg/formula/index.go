package formula

import (
	"math"
)

// allIndex marks a bare ':' that selects a whole dimension.
type allIndex struct{}

// index applies 1-based indices to a string, vector, matrix or object.
func index(target Value, indices []Value) (Value, error) {
	switch t := target.(type) {
	case string:
		if len(indices) != 1 {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Strings take one index (%d given)", len(indices))
		}
		runes := []rune(t)
		pos, single, err := positions(indices[0], len(runes))
		if err != nil {
			return nil, err
		}
		if single {
			return string(runes[pos[0]]), nil
		}
		out := make([]rune, len(pos))
		for i, p := range pos {
			out[i] = runes[p]
		}
		return string(out), nil

	case *Matrix:
		if t.vector {
			return indexVector(t, indices)
		}
		return indexMatrix(t, indices)

	case map[string]any:
		if len(indices) != 1 {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Objects take one key (%d given)", len(indices))
		}
		key, ok := indices[0].(string)
		if !ok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Object keys must be strings (got %s)", typeName(indices[0]))
		}
		return member(t, key)
	}

	return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot index a %s", typeName(target))
}

func indexVector(v *Matrix, indices []Value) (Value, error) {
	if len(indices) == 2 {
		// v[1, j] treats the vector as a single row
		rows, _, err := positions(indices[0], 1)
		if err != nil {
			return nil, err
		}
		if len(rows) != 1 {
			return nil, newEvalErrorf(ErrorIndexOutOfRange, "Index out of range (%d > 1)", len(rows))
		}
		indices = indices[1:]
	}
	if len(indices) != 1 {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%d indices for a vector)", len(indices))
	}

	pos, single, err := positions(indices[0], v.Len())
	if err != nil {
		return nil, err
	}
	if single {
		return v.data[pos[0]], nil
	}
	out := make([]Value, len(pos))
	for i, p := range pos {
		out[i] = v.data[p]
	}
	return NewVector(out), nil
}

func indexMatrix(m *Matrix, indices []Value) (Value, error) {
	switch len(indices) {
	case 1:
		rows, single, err := positions(indices[0], m.rows)
		if err != nil {
			return nil, err
		}
		if single {
			return m.row(rows[0]), nil
		}
		return selectCells(m, rows, allPositions(m.cols)), nil

	case 2:
		rows, singleRow, err := positions(indices[0], m.rows)
		if err != nil {
			return nil, err
		}
		cols, singleCol, err := positions(indices[1], m.cols)
		if err != nil {
			return nil, err
		}
		switch {
		case singleRow && singleCol:
			return m.At(rows[0], cols[0]), nil
		case singleRow:
			out := make([]Value, len(cols))
			for i, c := range cols {
				out[i] = m.At(rows[0], c)
			}
			return NewVector(out), nil
		case singleCol:
			out := make([]Value, len(rows))
			for i, r := range rows {
				out[i] = m.At(r, cols[0])
			}
			return NewVector(out), nil
		}
		return selectCells(m, rows, cols), nil
	}

	return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%d indices for a %s matrix)", len(indices), formatSize(m))
}

func selectCells(m *Matrix, rows, cols []int) *Matrix {
	data := make([]Value, 0, len(rows)*len(cols))
	for _, r := range rows {
		for _, c := range cols {
			data = append(data, m.At(r, c))
		}
	}
	return NewMatrix(len(rows), len(cols), data)
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// positions turns a 1-based index value into zero-based offsets. single is
// true when the index was a scalar.
func positions(idx Value, n int) (pos []int, single bool, err error) {
	switch x := idx.(type) {
	case allIndex:
		return allPositions(n), false, nil

	case *Matrix:
		if mask, ok := booleanMask(x, n); ok {
			return mask, false, nil
		}
		out := make([]int, 0, x.Len())
		for _, v := range x.data {
			p, err := position(v, n)
			if err != nil {
				return nil, false, err
			}
			out = append(out, p)
		}
		return out, false, nil
	}

	p, err := position(idx, n)
	if err != nil {
		return nil, false, err
	}
	return []int{p}, true, nil
}

func position(v Value, n int) (int, error) {
	f, ok := toNumber(v)
	if !ok || v == nil {
		return 0, newEvalErrorf(ErrorTypeMismatch, "Index must be a number (got %s)", typeName(v))
	}
	if f != math.Trunc(f) {
		return 0, newEvalErrorf(ErrorArgument, "Index must be an integer (value: %s)", formatNumber(f))
	}
	if f < 1 {
		return 0, newEvalErrorf(ErrorIndexOutOfRange, "Index out of range (%s < 1)", formatNumber(f))
	}
	if f > float64(n) {
		return 0, newEvalErrorf(ErrorIndexOutOfRange, "Index out of range (%s > %d)", formatNumber(f), n)
	}
	return int(f) - 1, nil
}

func booleanMask(m *Matrix, n int) ([]int, bool) {
	if m.Len() != n || n == 0 {
		return nil, false
	}
	var out []int
	for i, v := range m.data {
		b, ok := v.(bool)
		if !ok {
			return nil, false
		}
		if b {
			out = append(out, i)
		}
	}
	return out, true
}

// member reads a property of an object.
func member(object Value, property string) (Value, error) {
	obj, ok := object.(map[string]any)
	if !ok {
		return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot read property %s of %s", property, typeName(object))
	}
	v, ok := obj[property]
	if !ok {
		err := newEvalErrorf(ErrorUndefinedSymbol, "Property %s not found", property)
		err.Symbol = property
		return nil, err
	}
	return Normalize(v), nil
}
