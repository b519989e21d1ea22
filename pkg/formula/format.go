package formula

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Format renders a value for display. Numbers keep up to 14 significant
// digits, matrices print as nested lists and result sets as a list of
// their entries.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return formatNumber(x)
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case Sentinel:
		return string(x)
	case *Matrix:
		return formatMatrix(x)
	case ResultSet:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Function:
		return x.String()
	case map[string]any:
		return formatObject(x)
	}

	switch n := Normalize(v).(type) {
	case float64, *Matrix, map[string]any:
		return Format(n)
	}
	return fmt.Sprint(v)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'g', 14, 64)
	mantissa, exp, hasExp := strings.Cut(s, "e")
	if strings.Contains(mantissa, ".") {
		mantissa = strings.TrimRight(mantissa, "0")
		mantissa = strings.TrimSuffix(mantissa, ".")
	}
	if !hasExp {
		return mantissa
	}

	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + string(sign) + digits
}

// formatElement quotes strings inside containers.
func formatElement(v Value) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	if m, ok := v.(*Matrix); ok {
		return formatMatrix(m)
	}
	return Format(v)
}

func formatMatrix(m *Matrix) string {
	if m.vector {
		parts := make([]string, len(m.data))
		for i, v := range m.data {
			parts[i] = formatElement(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	rows := make([]string, m.rows)
	for i := 0; i < m.rows; i++ {
		rows[i] = formatMatrix(m.row(i))
	}
	return "[" + strings.Join(rows, ", ") + "]"
}

func formatObject(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + ": " + formatElement(Normalize(obj[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatSize(m *Matrix) string {
	size := m.Size()
	parts := make([]string, len(size))
	for i, n := range size {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
