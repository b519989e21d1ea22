package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/scope"
)

// internalNames are interpreter globals that never reach the scope.
var internalNames = map[string]bool{
	"js":         true,
	"pyodide":    true,
	"pyodide_py": true,
	"micropip":   true,
	"sys":        true,
	"json":       true,
	"io":         true,
	"contextlib": true,
	"traceback":  true,
}

// syncable reports whether a runtime global may be written to the scope.
func syncable(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_") && !internalNames[name]
}

// wireVars converts a snapshot to values a runtime can receive. Values
// with no wire form (user defined formula functions) are left out.
func wireVars(snap scope.Snapshot) map[string]any {
	vars := make(map[string]any, snap.Len())
	for _, name := range snap.Keys() {
		v, _ := snap.Get(name)
		if w, ok := wireValue(v); ok {
			vars[name] = w
		}
	}
	return vars
}

// wireValue converts one scope value to plain JSON compatible data.
// Non-finite numbers become nil.
func wireValue(v any) (any, bool) {
	return wirePlain(formula.Plain(formula.Normalize(v)))
}

func wirePlain(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, true
		}
		return x, true
	case string:
		return x, true
	case bool:
		return x, true
	case formula.Sentinel:
		return string(x), true
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			w, ok := wirePlain(item)
			if !ok {
				return nil, false
			}
			out[i] = w
		}
		return out, true
	case [][]any:
		out := make([]any, len(x))
		for i, row := range x {
			w, ok := wirePlain(row)
			if !ok {
				return nil, false
			}
			out[i] = w
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			w, ok := wirePlain(item)
			if !ok {
				return nil, false
			}
			out[k] = w
		}
		return out, true
	}

	switch n := formula.Normalize(v).(type) {
	case float64:
		return wirePlain(n)
	case *formula.Matrix:
		return wirePlain(n.Plain())
	case map[string]any:
		return wirePlain(n)
	}
	return nil, false
}

// syncBatch returns the globals that are new or differ from the snapshot.
// A global is compared with the wire form it was sent as, so values that
// lose information on the wire (non-finite numbers, the Error sentinel)
// are not written back unless the script changed them.
func syncBatch(snap scope.Snapshot, sent, globals map[string]any) map[string]any {
	batch := make(map[string]any)
	for name, v := range globals {
		if !syncable(name) {
			continue
		}
		if w, ok := sent[name]; ok && formula.Equal(w, v) {
			continue
		}
		if old, ok := snap.Get(name); ok && formula.Equal(old, v) {
			continue
		}
		batch[name] = v
	}
	return batch
}

// rAssignments renders vars as R assign() calls, sorted by name. Only
// scalars, strings and homogeneous vectors and matrices are pushed.
func rAssignments(vars map[string]any) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		lit, ok := rLiteral(vars[name])
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("assign(%s, %s, envir = .GlobalEnv)", rString(name), lit))
	}
	return lines
}

func rLiteral(v any) (string, bool) {
	switch x := v.(type) {
	case float64:
		return rNumber(x), true
	case string:
		return rString(x), true
	case bool:
		return rBool(x), true
	case []any:
		if rows, ok := asRows(x); ok {
			return rMatrix(rows)
		}
		return rVector(x)
	}
	return "", false
}

func asRows(x []any) ([][]any, bool) {
	if len(x) == 0 {
		return nil, false
	}
	rows := make([][]any, len(x))
	for i, item := range x {
		row, ok := item.([]any)
		if !ok {
			return nil, false
		}
		rows[i] = row
	}
	return rows, true
}

func rVector(items []any) (string, bool) {
	if len(items) == 0 {
		return "numeric(0)", true
	}
	parts := make([]string, len(items))
	_, numeric := items[0].(float64)
	for i, item := range items {
		switch x := item.(type) {
		case float64:
			if !numeric {
				return "", false
			}
			parts[i] = rNumber(x)
		case string:
			if numeric {
				return "", false
			}
			parts[i] = rString(x)
		case nil:
			parts[i] = "NA"
		default:
			return "", false
		}
	}
	return "c(" + strings.Join(parts, ", ") + ")", true
}

func rMatrix(rows [][]any) (string, bool) {
	cols := len(rows[0])
	var flat []any
	for _, row := range rows {
		if len(row) != cols {
			return "", false
		}
		flat = append(flat, row...)
	}
	vec, ok := rVector(flat)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("matrix(%s, nrow = %d, ncol = %d, byrow = TRUE)", vec, len(rows), cols), true
}

func rNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func rBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// rString quotes s as an R string literal.
func rString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
