package parser

import (
	"testing"

	"github.com/zurustar/flowsheet/pkg/formula/ast"
	"github.com/zurustar/flowsheet/pkg/formula/lexer"
)

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(lexer.New(input))
	program := p.ParseProgram()
	checkParserErrors(t, p)
	return program
}

func checkParserErrors(t *testing.T, p *Parser) {
	t.Helper()
	errors := p.Errors()
	if len(errors) == 0 {
		return
	}

	t.Errorf("parser has %d errors", len(errors))
	for _, err := range errors {
		t.Errorf("parser error: %s\n%s", err.Error(), err.Context)
	}
	t.FailNow()
}

func TestOperatorPrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2 + 2 * 2", "(2 + (2 * 2))"},
		{"(2 + 2) * 2", "((2 + 2) * 2)"},
		{"-2 ^ 2", "(-(2 ^ 2))"},
		{"2 ^ 3 ^ 2", "(2 ^ (3 ^ 2))"},
		{"2 ^ -1", "(2 ^ (-1))"},
		{"a + b * c - d / e", "((a + (b * c)) - (d / e))"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a and b or c", "((a && b) || c)"},
		{"not a", "(not a)"},
		{"!a && b", "((not a) && b)"},
		{"1:5", "(1:5)"},
		{"1:2:9", "(1:2:9)"},
		{"1 + 1:n - 1", "((1 + 1):(n - 1))"},
		{"x > 0 ? 1 : -1", "((x > 0) ? 1 : (-1))"},
		{"a ? b : c ? d : e", "(a ? b : (c ? d : e))"},
		{"5!", "(5!)"},
		{"-3!", "(-(3!))"},
		{"m .* n .^ 2", "(m .* (n .^ 2))"},
		{"2x", "(2 * x)"},
		{"2x^2 + 1", "((2 * (x ^ 2)) + 1)"},
		{"3(a + b)", "(3 * (a + b))"},
		{"sqrt(x) + max(1, 2)", "(sqrt(x) + max(1, 2))"},
		{"x[1] * m[2, 1]", "(x[1] * m[2, 1])"},
		{"m[:, 2]", "m[:, 2]"},
		{"data.sheets[1]", "data.sheets[1]"},
		{"[1, 2; 3, 4]", "[1, 2; 3, 4]"},
		{"[[1, 2], [3, 4]]", "[[1, 2], [3, 4]]"},
		{"[]", "[]"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			program := parse(t, tt.input)
			if len(program.Statements) != 1 {
				t.Fatalf("expected 1 statement, got %d", len(program.Statements))
			}
			if got := program.String(); got != tt.expected {
				t.Errorf("expected=%q, got=%q", tt.expected, got)
			}
		})
	}
}

func TestAssignStatement(t *testing.T) {
	program := parse(t, "total = price * qty")

	stmt, ok := program.Statements[0].(*ast.AssignStatement)
	if !ok {
		t.Fatalf("program.Statements[0] is not ast.AssignStatement. got=%T", program.Statements[0])
	}
	if stmt.Name.Value != "total" {
		t.Errorf("expected name total, got %s", stmt.Name.Value)
	}
	if stmt.Value.String() != "(price * qty)" {
		t.Errorf("unexpected value %s", stmt.Value.String())
	}
	if stmt.Hidden {
		t.Error("statement without semicolon should be visible")
	}
}

func TestFunctionAssignStatement(t *testing.T) {
	program := parse(t, "area(w, h) = w * h")

	stmt, ok := program.Statements[0].(*ast.FunctionAssignStatement)
	if !ok {
		t.Fatalf("program.Statements[0] is not ast.FunctionAssignStatement. got=%T", program.Statements[0])
	}
	if stmt.Name.Value != "area" {
		t.Errorf("expected name area, got %s", stmt.Name.Value)
	}
	if len(stmt.Parameters) != 2 || stmt.Parameters[0].Value != "w" || stmt.Parameters[1].Value != "h" {
		t.Errorf("unexpected parameters %v", stmt.Parameters)
	}
}

func TestSemicolonHidesResult(t *testing.T) {
	program := parse(t, "a = 1; b = 2\na + b;")

	if len(program.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(program.Statements))
	}
	if !program.Statements[0].(*ast.AssignStatement).Hidden {
		t.Error("a = 1; should be hidden")
	}
	if program.Statements[1].(*ast.AssignStatement).Hidden {
		t.Error("b = 2 should be visible")
	}
	if !program.Statements[2].(*ast.ExpressionStatement).Hidden {
		t.Error("a + b; should be hidden")
	}
}

func TestMultilineMatrix(t *testing.T) {
	program := parse(t, "m = [\n  1, 2;\n  3, 4\n]")

	stmt := program.Statements[0].(*ast.AssignStatement)
	lit, ok := stmt.Value.(*ast.MatrixLiteral)
	if !ok {
		t.Fatalf("expected matrix literal, got %T", stmt.Value)
	}
	if len(lit.Rows) != 2 || len(lit.Rows[0]) != 2 {
		t.Errorf("expected 2x2 rows, got %v", lit.String())
	}
}

func TestBlankLinesAndComments(t *testing.T) {
	program := parse(t, "\n\n# heading\nx = 1\n\n  \ny\n")
	if len(program.Statements) != 2 {
		t.Errorf("expected 2 statements, got %d", len(program.Statements))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input   string
		message string
		column  int
	}{
		{"1/", "unexpected end of expression", 3},
		{"(1 + 2", "expected ), got end of input", 7},
		{"1 2", `unexpected "2"`, 3},
		{"x = ", "unexpected end of expression", 5},
		{"1 = 2", "invalid assignment target 1", 3},
		{"f(1) = 2", "invalid parameter 1 in definition of f", 6},
		{`"abc`, "unterminated string", 1},
		{"a $ b", `illegal character "$"`, 3},
		{"x[]", "empty index", 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatal("expected an error")
			}
			perr, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if perr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, perr.Message)
			}
			if perr.Column != tt.column {
				t.Errorf("expected column %d, got %d", tt.column, perr.Column)
			}
			if perr.Context == "" {
				t.Error("expected a source excerpt")
			}
		})
	}
}

func TestErrorRecoveryContinuesWithNextLine(t *testing.T) {
	p := New(lexer.New("1/\n2 + 2"))
	program := p.ParseProgram()

	if len(p.Errors()) != 1 {
		t.Fatalf("expected 1 error, got %d", len(p.Errors()))
	}
	if p.Errors()[0].Line != 1 {
		t.Errorf("expected error on line 1, got %d", p.Errors()[0].Line)
	}
	if len(program.Statements) != 1 || program.Statements[0].String() != "(2 + 2)" {
		t.Errorf("expected the second line to parse, got %q", program.String())
	}
}
