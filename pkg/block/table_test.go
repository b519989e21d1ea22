package block

import (
	"testing"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/scope"
)

func TestRenderCell(t *testing.T) {
	snap := scope.NewSnapshot(map[string]any{
		"x":     3.0,
		"label": "kg",
		"v":     []any{1.0, 2.0},
	})
	eval := formula.New()

	tests := []struct {
		cell any
		want string
	}{
		{"", ""},
		{nil, ""},
		{"plain", "plain"},
		{2.5, "2.5"},
		{"=1+2", "3"},
		{"=x * 2", "6"},
		{"=nope", "Error"},
		{"{x} {label}", "3 kg"},
		{"{missing} stays", "{missing} stays"},
		{"sum {v}", "sum [1, 2]"},
	}
	for _, tt := range tests {
		if got := RenderCell(tt.cell, snap, eval); got != tt.want {
			t.Errorf("RenderCell(%#v) = %q, want %q", tt.cell, got, tt.want)
		}
	}
}

func TestIsFormulaCell(t *testing.T) {
	for cell, want := range map[any]bool{
		"=a":     true,
		"{a}":    true,
		"a":      false,
		1.0:      false,
		"a = b":  false,
		"{open":  true,
		"close}": false,
	} {
		if got := IsFormulaCell(cell); got != want {
			t.Errorf("IsFormulaCell(%#v) = %v", cell, got)
		}
	}
}

func TestSyncFromScopeIgnoresVectors(t *testing.T) {
	b := New("t", KindTable, Position{})
	b.VariableName = "v"
	snap := scope.NewSnapshot(map[string]any{"v": []any{1.0, 2.0}})
	if _, ok := SyncFromScope(b, snap); ok {
		t.Error("a 1-D value must not replace table content")
	}
}
