package block

import (
	"regexp"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/scope"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Render returns the display text of every cell. Cells starting with "="
// are evaluated as formulas; "{name}" placeholders are replaced with the
// value of name when the scope has it.
func Render(cells [][]any, snap scope.Snapshot, eval *formula.Evaluator) [][]string {
	out := make([][]string, len(cells))
	for i, row := range cells {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			out[i][j] = RenderCell(cell, snap, eval)
		}
	}
	return out
}

// RenderCell returns the display text of a single cell.
func RenderCell(cell any, snap scope.Snapshot, eval *formula.Evaluator) string {
	s, ok := cell.(string)
	if !ok {
		if cell == nil {
			return ""
		}
		return formula.Format(formula.Normalize(cell))
	}
	if expr, ok := strings.CutPrefix(s, "="); ok {
		return formula.Format(eval.Evaluate(expr, snap))
	}
	if !strings.Contains(s, "{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := snap.Get(name); ok {
			return formula.Format(formula.Normalize(v))
		}
		return match
	})
}

// IsFormulaCell reports whether a cell is computed rather than literal.
func IsFormulaCell(cell any) bool {
	s, ok := cell.(string)
	return ok && (strings.HasPrefix(s, "=") || strings.Contains(s, "{"))
}

// SyncFromScope proposes new table content when the scope holds a 2-D
// array under the table's variable name that differs from the cells.
func SyncFromScope(b Block, snap scope.Snapshot) (Update, bool) {
	name := b.Variable()
	if b.Type != KindTable || name == "" {
		return Update{}, false
	}
	v, ok := snap.Get(name)
	if !ok {
		return Update{}, false
	}
	cells, ok := toCells(v)
	if !ok || formula.Equal(cells, b.Cells) {
		return Update{}, false
	}
	return Update{Cells: cells}, true
}

// toCells converts a 2-D array value to a cell grid.
func toCells(v any) ([][]any, bool) {
	m, ok := formula.Normalize(v).(*formula.Matrix)
	if !ok || m.IsVector() || m.Len() == 0 {
		return nil, false
	}
	cells, ok := m.Plain().([][]any)
	return cells, ok
}

// tableCells returns the cells a table publishes.
func tableCells(b Block) [][]any {
	if len(b.Cells) == 0 {
		return DefaultCells()
	}
	return CopyCells(b.Cells)
}
