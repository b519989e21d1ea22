package deps

import (
	"reflect"
	"testing"

	"github.com/zurustar/flowsheet/pkg/block"
)

func formulaBlock(id, name, content string) block.Block {
	b := block.New(id, block.KindFormula, block.Position{})
	b.VariableName = name
	b.Content = content
	return b
}

func TestResolve(t *testing.T) {
	blocks := []block.Block{
		formulaBlock("a", "price", "12"),
		formulaBlock("b", "qty", "3"),
		formulaBlock("c", "total", "price * qty + price"),
	}

	got := Resolve(blocks)
	want := []Edge{
		{From: "a", To: "c", Name: "price"},
		{From: "b", To: "c", Name: "qty"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveOnlyFormulaConsumers(t *testing.T) {
	text := block.New("t", block.KindText, block.Position{})
	text.Content = "price is computed above"
	tbl := block.New("tbl", block.KindTable, block.Position{})
	tbl.VariableName = "grid"
	tbl.Cells = [][]any{{"=price"}}

	blocks := []block.Block{formulaBlock("a", "price", "12"), text, tbl}
	if got := Resolve(blocks); len(got) != 0 {
		t.Errorf("only formula blocks consume, got %v", got)
	}
}

func TestResolveSelfAndCollisions(t *testing.T) {
	blocks := []block.Block{
		formulaBlock("a", "x", "1"),
		formulaBlock("b", " x ", "2"),
		formulaBlock("c", "y", "y + x"),
	}
	got := Resolve(blocks)
	want := []Edge{{From: "b", To: "c", Name: "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveStrict(t *testing.T) {
	blocks := []block.Block{
		formulaBlock("a", "sqrt", "4"),
		formulaBlock("b", "r", "2"),
		formulaBlock("c", "tmp", "9"),
		formulaBlock("d", "area", "tmp = r^2; pi * tmp + sqrt(r)"),
		formulaBlock("e", "broken", "r +"),
	}

	loose := Resolve(blocks)
	if len(loose) != 4 {
		t.Errorf("loose resolve should count incidental tokens, got %v", loose)
	}

	got := ResolveStrict(blocks)
	want := []Edge{
		{From: "b", To: "d", Name: "r"},
		{From: "b", To: "e", Name: "r"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveStrict() = %v, want %v", got, want)
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("a + b*a - f(c_1) + 2x")
	want := []string{"a", "b", "f", "c_1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}
}

func TestResolverHidden(t *testing.T) {
	blocks := []block.Block{formulaBlock("a", "x", "1"), formulaBlock("b", "", "x")}
	if got := (Resolver{Hidden: true}).Edges(blocks); got != nil {
		t.Errorf("hidden resolver returned %v", got)
	}
	if got := (Resolver{Hidden: true}).Lines(blocks); got != nil {
		t.Errorf("hidden resolver returned lines %v", got)
	}
	if got := (Resolver{}).Edges(blocks); len(got) != 1 {
		t.Errorf("visible resolver returned %v", got)
	}
}

func TestLines(t *testing.T) {
	a := formulaBlock("a", "x", "1")
	a.Position = block.Position{X: 0, Y: 0}
	a.Size = nil
	b := formulaBlock("b", "", "x")
	b.Position = block.Position{X: 400, Y: 200}
	b.Size = &block.Size{Width: 100, Height: 50}

	lines := Resolver{}.Lines([]block.Block{a, b})
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[0].Start != (Point{X: 150, Y: 50}) {
		t.Errorf("start = %v", lines[0].Start)
	}
	if lines[0].End != (Point{X: 450, Y: 225}) {
		t.Errorf("end = %v", lines[0].End)
	}
}
