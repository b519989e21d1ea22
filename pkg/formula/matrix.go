package formula

import (
	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense vector (one dimension) or matrix (two dimensions).
// Elements are stored row-major and may be numbers, strings, booleans or
// null; numeric operations require every element to be a number.
type Matrix struct {
	rows   int
	cols   int
	vector bool
	data   []Value
}

// NewVector creates a one-dimensional matrix.
func NewVector(values []Value) *Matrix {
	return &Matrix{rows: 1, cols: len(values), vector: true, data: values}
}

// NewMatrix creates a rows x cols matrix from row-major data.
func NewMatrix(rows, cols int, data []Value) *Matrix {
	return &Matrix{rows: rows, cols: cols, data: data}
}

func newNumericVector(values []float64) *Matrix {
	data := make([]Value, len(values))
	for i, v := range values {
		data[i] = v
	}
	return NewVector(data)
}

func filled(rows, cols int, v Value, vector bool) *Matrix {
	data := make([]Value, rows*cols)
	for i := range data {
		data[i] = v
	}
	return &Matrix{rows: rows, cols: cols, vector: vector, data: data}
}

// Size returns [n] for a vector and [rows, cols] for a matrix.
func (m *Matrix) Size() []int {
	if m.vector {
		return []int{len(m.data)}
	}
	return []int{m.rows, m.cols}
}

// IsVector reports whether m has one dimension.
func (m *Matrix) IsVector() bool { return m.vector }

// Rows returns the number of rows; a vector has one.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns; for a vector its length.
func (m *Matrix) Cols() int { return m.cols }

// Len returns the number of elements.
func (m *Matrix) Len() int { return len(m.data) }

// At returns the element at the zero-based row and column.
func (m *Matrix) At(i, j int) Value { return m.data[i*m.cols+j] }

// Values returns a copy of the elements in row-major order.
func (m *Matrix) Values() []Value {
	out := make([]Value, len(m.data))
	copy(out, m.data)
	return out
}

// Plain converts m to plain Go slices: []any for a vector and [][]any for
// a matrix. Nested matrices are converted too.
func (m *Matrix) Plain() any {
	if m.vector {
		out := make([]any, len(m.data))
		for i, v := range m.data {
			out[i] = plainValue(v)
		}
		return out
	}
	out := make([][]any, m.rows)
	for i := 0; i < m.rows; i++ {
		row := make([]any, m.cols)
		for j := 0; j < m.cols; j++ {
			row[j] = plainValue(m.At(i, j))
		}
		out[i] = row
	}
	return out
}

// Plain converts a value for export outside the evaluator. Matrices and
// result sets become slices; everything else is returned unchanged.
func Plain(v Value) any {
	return plainValue(v)
}

func plainValue(v Value) any {
	switch x := v.(type) {
	case *Matrix:
		return x.Plain()
	case ResultSet:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plainValue(item)
		}
		return out
	}
	return v
}

func (m *Matrix) row(i int) *Matrix {
	values := make([]Value, m.cols)
	copy(values, m.data[i*m.cols:(i+1)*m.cols])
	return NewVector(values)
}

func (m *Matrix) column(j int) *Matrix {
	values := make([]Value, m.rows)
	for i := 0; i < m.rows; i++ {
		values[i] = m.At(i, j)
	}
	return NewVector(values)
}

func (m *Matrix) isSquare() bool {
	return !m.vector && m.rows == m.cols
}

func sameShape(a, b *Matrix) bool {
	return a.vector == b.vector && a.rows == b.rows && a.cols == b.cols
}

func (m *Matrix) mapValues(fn func(Value) (Value, error)) (*Matrix, error) {
	out := make([]Value, len(m.data))
	for i, v := range m.data {
		r, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return &Matrix{rows: m.rows, cols: m.cols, vector: m.vector, data: out}, nil
}

// floats returns the elements as float64, failing on non-numeric data.
func (m *Matrix) floats() ([]float64, error) {
	out := make([]float64, len(m.data))
	for i, v := range m.data {
		f, ok := toNumber(v)
		if !ok {
			return nil, newEvalErrorf(ErrorTypeMismatch, "Cannot convert %s to a number", Format(v))
		}
		out[i] = f
	}
	return out, nil
}

// dense converts m to a gonum matrix. A vector becomes a single row.
func (m *Matrix) dense() (*mat.Dense, error) {
	values, err := m.floats()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Matrix is empty")
	}
	return mat.NewDense(m.rows, m.cols, values), nil
}

func fromDense(d mat.Matrix) *Matrix {
	r, c := d.Dims()
	data := make([]Value, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, d.At(i, j))
		}
	}
	return NewMatrix(r, c, data)
}

// multiply computes the matrix product. A vector on the left acts as a row
// and on the right as a column; the product of two vectors is their dot
// product.
func multiply(a, b *Matrix) (Value, error) {
	switch {
	case a.vector && b.vector:
		if a.Len() != b.Len() {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%d != %d)", a.Len(), b.Len())
		}
		return dotProduct(a, b)

	case a.vector:
		if a.Len() != b.rows {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch in multiplication. Vector length (%d) must match Matrix rows (%d)", a.Len(), b.rows)
		}
		da, err := a.dense()
		if err != nil {
			return nil, err
		}
		db, err := b.dense()
		if err != nil {
			return nil, err
		}
		var out mat.Dense
		out.Mul(da, db)
		return newNumericVector(mat.Row(nil, 0, &out)), nil

	case b.vector:
		if a.cols != b.Len() {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch in multiplication. Matrix columns (%d) must match Vector length (%d)", a.cols, b.Len())
		}
		da, err := a.dense()
		if err != nil {
			return nil, err
		}
		values, err := b.floats()
		if err != nil {
			return nil, err
		}
		var out mat.VecDense
		out.MulVec(da, mat.NewVecDense(len(values), values))
		return newNumericVector(out.RawVector().Data), nil
	}

	if a.cols != b.rows {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch in multiplication. Matrix A columns (%d) must match Matrix B rows (%d)", a.cols, b.rows)
	}
	da, err := a.dense()
	if err != nil {
		return nil, err
	}
	db, err := b.dense()
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(da, db)
	return fromDense(&out), nil
}

func dotProduct(a, b *Matrix) (Value, error) {
	x, err := a.floats()
	if err != nil {
		return nil, err
	}
	y, err := b.floats()
	if err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Vectors must have equal length (%d != %d)", len(x), len(y))
	}
	if len(x) == 0 {
		return 0.0, nil
	}
	return mat.Dot(mat.NewVecDense(len(x), x), mat.NewVecDense(len(y), y)), nil
}

func inverse(m *Matrix) (*Matrix, error) {
	if !m.isSquare() {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Matrix must be square (size: %s)", formatSize(m))
	}
	d, err := m.dense()
	if err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return nil, newEvalErrorf(ErrorSingularMatrix, "Cannot calculate inverse, determinant is zero")
	}
	return fromDense(&inv), nil
}

func determinant(m *Matrix) (float64, error) {
	if !m.isSquare() {
		return 0, newEvalErrorf(ErrorDimensionMismatch, "Matrix must be square (size: %s)", formatSize(m))
	}
	d, err := m.dense()
	if err != nil {
		return 0, err
	}
	return mat.Det(d), nil
}

// matrixPower raises a square matrix to a non-negative integer power.
func matrixPower(m *Matrix, exponent float64) (*Matrix, error) {
	if !m.isSquare() {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "For A^b, matrix A must be square (size: %s)", formatSize(m))
	}
	if exponent != float64(int(exponent)) || exponent < 0 {
		return nil, newEvalErrorf(ErrorArgument, "For A^b, b must be a non-negative integer (value is %s)", formatNumber(exponent))
	}
	d, err := m.dense()
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Pow(d, int(exponent))
	return fromDense(&out), nil
}

func transpose(m *Matrix) *Matrix {
	if m.vector {
		return NewVector(m.Values())
	}
	data := make([]Value, 0, len(m.data))
	for j := 0; j < m.cols; j++ {
		for i := 0; i < m.rows; i++ {
			data = append(data, m.At(i, j))
		}
	}
	return NewMatrix(m.cols, m.rows, data)
}
