package formula

import (
	"github.com/zurustar/flowsheet/pkg/formula/ast"
	"github.com/zurustar/flowsheet/pkg/formula/parser"
)

// References returns the free variables of expr using the default
// evaluator's function table.
func References(expr string) ([]string, error) {
	return defaultEvaluator().References(expr)
}

// References returns the names expr reads from the scope, in first-seen
// order. Built-in functions, constants, function parameters and names
// assigned earlier in the same expression are excluded.
func (e *Evaluator) References(expr string) ([]string, error) {
	program, err := parser.Parse(expr)
	if err != nil {
		return nil, fromParseError(err)
	}

	w := &refWalker{
		eval:  e,
		bound: make(map[string]bool),
		seen:  make(map[string]bool),
	}
	for _, stmt := range program.Statements {
		switch s := stmt.(type) {
		case *ast.ExpressionStatement:
			w.walk(s.Expression, nil)
		case *ast.AssignStatement:
			w.walk(s.Value, nil)
			w.bound[s.Name.Value] = true
		case *ast.FunctionAssignStatement:
			params := make(map[string]bool, len(s.Parameters))
			for _, p := range s.Parameters {
				params[p.Value] = true
			}
			// bind first so recursive calls are not references
			w.bound[s.Name.Value] = true
			w.walk(s.Body, params)
		}
	}
	return w.refs, nil
}

type refWalker struct {
	eval  *Evaluator
	bound map[string]bool
	seen  map[string]bool
	refs  []string
}

func (w *refWalker) add(name string, params map[string]bool) {
	if params[name] || w.bound[name] || w.seen[name] || IsConstant(name) {
		return
	}
	w.seen[name] = true
	w.refs = append(w.refs, name)
}

func (w *refWalker) walk(node ast.Expression, params map[string]bool) {
	switch n := node.(type) {
	case *ast.Identifier:
		w.add(n.Value, params)
	case *ast.MatrixLiteral:
		for _, row := range n.Rows {
			for _, elem := range row {
				w.walk(elem, params)
			}
		}
	case *ast.PrefixExpression:
		w.walk(n.Right, params)
	case *ast.PostfixExpression:
		w.walk(n.Left, params)
	case *ast.InfixExpression:
		w.walk(n.Left, params)
		w.walk(n.Right, params)
	case *ast.ConditionalExpression:
		w.walk(n.Condition, params)
		w.walk(n.Consequence, params)
		w.walk(n.Alternative, params)
	case *ast.RangeExpression:
		w.walk(n.Start, params)
		if n.Step != nil {
			w.walk(n.Step, params)
		}
		w.walk(n.End, params)
	case *ast.CallExpression:
		if id, ok := n.Function.(*ast.Identifier); ok {
			if !w.eval.HasFunction(id.Value) {
				w.add(id.Value, params)
			}
		} else {
			w.walk(n.Function, params)
		}
		for _, arg := range n.Arguments {
			w.walk(arg, params)
		}
	case *ast.IndexExpression:
		w.walk(n.Left, params)
		for _, idx := range n.Indices {
			w.walk(idx, params)
		}
	case *ast.MemberExpression:
		w.walk(n.Object, params)
	}
}
