// Package formula evaluates spreadsheet-style math expressions against a
// scope snapshot.
//
// Evaluation never mutates the scope. Assignments and function definitions
// bind in a local overlay that lives for one call; callers decide what to
// write back.
package formula

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/zurustar/flowsheet/pkg/formula/ast"
	"github.com/zurustar/flowsheet/pkg/formula/parser"
	"github.com/zurustar/flowsheet/pkg/formula/token"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
)

// MaxCallDepth limits nested calls of user-defined functions.
const MaxCallDepth = 256

// maxRangeLength limits the number of elements a range may produce.
const maxRangeLength = 10_000_000

// BuiltinFunc implements a built-in function.
type BuiltinFunc func(args []Value) (Value, error)

// Evaluator evaluates formula text. It is safe for concurrent use once
// constructed; RegisterFunction must not race with evaluation.
type Evaluator struct {
	builtins map[string]BuiltinFunc
	log      *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for debug output.
func WithLogger(log *slog.Logger) Option {
	return func(e *Evaluator) {
		e.log = log
	}
}

// New creates an Evaluator with the standard built-in functions.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		builtins: make(map[string]BuiltinFunc),
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.registerMathBuiltins()
	e.registerMatrixBuiltins()
	e.registerStatBuiltins()
	e.registerConversionBuiltins()

	return e
}

// RegisterFunction registers or replaces a built-in function.
func (e *Evaluator) RegisterFunction(name string, fn BuiltinFunc) {
	e.builtins[name] = fn
}

// HasFunction reports whether name is a built-in function.
func (e *Evaluator) HasFunction(name string) bool {
	_, ok := e.builtins[name]
	return ok
}

// Functions returns the names of all built-in functions.
func (e *Evaluator) Functions() []string {
	names := make([]string, 0, len(e.builtins))
	for name := range e.builtins {
		names = append(names, name)
	}
	return names
}

var defaultEvaluator func() *Evaluator

func init() {
	defaultEvaluator = sync.OnceValue(func() *Evaluator { return New() })
}

// Evaluate evaluates expr with the default evaluator.
func Evaluate(expr string, snap scope.Snapshot) Value {
	return defaultEvaluator().Evaluate(expr, snap)
}

// Eval evaluates expr with the default evaluator and keeps the failure.
func Eval(expr string, snap scope.Snapshot) (Value, error) {
	return defaultEvaluator().Eval(expr, snap)
}

// EvaluateLines evaluates expr line by line with the default evaluator.
func EvaluateLines(expr string, snap scope.Snapshot) []LineResult {
	return defaultEvaluator().EvaluateLines(expr, snap)
}

// Evaluate evaluates expr and returns its value. It never panics and never
// fails: blank input yields Empty and any failure yields Error.
func (e *Evaluator) Evaluate(expr string, snap scope.Snapshot) Value {
	v, err := e.Eval(expr, snap)
	if err != nil {
		e.log.Debug("formula evaluation failed", "expr", expr, "error", err)
		return Error
	}
	return v
}

// Eval evaluates expr and returns its value, or Error together with an
// *EvalError describing the failure.
//
// A single visible statement yields its value. Several statements yield a
// ResultSet of the visible ones; a trailing semicolon hides a statement.
func (e *Evaluator) Eval(expr string, snap scope.Snapshot) (result Value, err error) {
	if strings.TrimSpace(expr) == "" {
		return Empty, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = Error
			err = newEvalErrorf(ErrorInternal, "%v", r)
		}
	}()

	program, perr := parser.Parse(expr)
	if perr != nil {
		return Error, fromParseError(perr)
	}
	if len(program.Statements) == 0 {
		return Empty, nil
	}

	env := newEnvironment(e, snap)
	visible := ResultSet{}
	for _, stmt := range program.Statements {
		v, hidden, err := env.execStatement(stmt)
		if err != nil {
			return Error, err
		}
		if !hidden {
			visible = append(visible, v)
		}
	}

	if len(program.Statements) == 1 && len(visible) == 1 {
		return visible[0], nil
	}
	return visible, nil
}

// LineResult is the outcome of one source line.
type LineResult struct {
	Line     int    // 1-based source line
	Source   string // the line as written
	Value    Value  // last visible value, Empty for comment lines, Error on failure
	Assigned string // last name bound on the line, if any
	Hidden   bool   // every statement on the line ended with a semicolon
	Err      error
}

// EvaluateLines evaluates each non-blank line of expr separately, in
// order, so results map to lines exactly. Lines share one set of local
// bindings; a failing line yields Error for that line only.
func (e *Evaluator) EvaluateLines(expr string, snap scope.Snapshot) []LineResult {
	env := newEnvironment(e, snap)
	var results []LineResult

	for i, line := range strings.Split(expr, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		res := LineResult{Line: i + 1, Source: line}
		res.Value, res.Assigned, res.Hidden, res.Err = env.execLine(line, i+1)
		if res.Err != nil {
			e.log.Debug("formula line failed", "line", i+1, "error", res.Err)
			res.Value = Error
		}
		results = append(results, res)
	}

	return results
}

func (env *environment) execLine(line string, lineNo int) (result Value, assigned string, hidden bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Error
			err = newEvalErrorf(ErrorInternal, "%v", r)
		}
	}()

	program, perr := parser.Parse(line)
	if perr != nil {
		eerr := fromParseError(perr)
		eerr.Line = lineNo
		return Error, "", false, eerr
	}
	if len(program.Statements) == 0 {
		return Empty, "", false, nil
	}

	hidden = true
	result = Empty
	var last Value = Empty
	for _, stmt := range program.Statements {
		v, stmtHidden, err := env.execStatement(stmt)
		if err != nil {
			var eerr *EvalError
			if errors.As(err, &eerr) {
				eerr.Line = lineNo
			}
			return Error, assigned, false, err
		}
		switch s := stmt.(type) {
		case *ast.AssignStatement:
			assigned = s.Name.Value
		case *ast.FunctionAssignStatement:
			assigned = s.Name.Value
		}
		last = v
		if !stmtHidden {
			hidden = false
			result = v
		}
	}
	if hidden {
		result = last
	}
	return result, assigned, hidden, nil
}

// environment holds local bindings. The root environment reads through to
// the scope snapshot; function calls get a child environment.
type environment struct {
	eval   *Evaluator
	snap   scope.Snapshot
	vars   map[string]Value
	cache  map[string]Value // normalized snapshot entries
	parent *environment
	depth  int
}

func newEnvironment(e *Evaluator, snap scope.Snapshot) *environment {
	return &environment{
		eval:  e,
		snap:  snap,
		vars:  make(map[string]Value),
		cache: make(map[string]Value),
	}
}

func (env *environment) child() *environment {
	return &environment{
		eval:   env.eval,
		vars:   make(map[string]Value),
		parent: env,
	}
}

// lookup resolves name through local bindings, the snapshot and finally
// the built-in constants.
func (env *environment) lookup(name string) (Value, bool) {
	for cur := env; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
		if cur.parent == nil {
			if v, ok := cur.cache[name]; ok {
				return v, true
			}
			if raw, ok := cur.snap.Get(name); ok {
				v := Normalize(raw)
				cur.cache[name] = v
				return v, true
			}
		}
	}
	if v, ok := constants[name]; ok {
		return v, true
	}
	return nil, false
}

var constants = map[string]Value{
	"pi":       math.Pi,
	"PI":       math.Pi,
	"e":        math.E,
	"E":        math.E,
	"tau":      2 * math.Pi,
	"phi":      math.Phi,
	"Infinity": math.Inf(1),
	"NaN":      math.NaN(),
	"LN2":      math.Ln2,
	"LN10":     math.Ln10,
	"LOG2E":    math.Log2E,
	"LOG10E":   math.Log10E,
	"SQRT2":    math.Sqrt2,
	"SQRT1_2":  math.Sqrt2 / 2,
}

// IsConstant reports whether name is a built-in constant.
func IsConstant(name string) bool {
	_, ok := constants[name]
	return ok
}

func (env *environment) execStatement(stmt ast.Statement) (Value, bool, error) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		v, err := env.evalExpression(s.Expression)
		return v, s.Hidden, err

	case *ast.AssignStatement:
		v, err := env.evalExpression(s.Value)
		if err != nil {
			return nil, s.Hidden, err
		}
		env.vars[s.Name.Value] = v
		return v, s.Hidden, nil

	case *ast.FunctionAssignStatement:
		params := make([]string, len(s.Parameters))
		for i, p := range s.Parameters {
			params[i] = p.Value
		}
		fn := &Function{Name: s.Name.Value, Params: params, Body: s.Body, env: env}
		env.vars[s.Name.Value] = fn
		return fn, s.Hidden, nil
	}
	return nil, false, newEvalErrorf(ErrorInternal, "unknown statement %T", stmt)
}

// evalExpression evaluates node and stamps failures with the position of
// the innermost node that produced them.
func (env *environment) evalExpression(node ast.Expression) (Value, error) {
	v, err := env.eval1(node)
	if err != nil {
		return nil, at(err, node)
	}
	return v, nil
}

func at(err error, node ast.Expression) error {
	var eerr *EvalError
	if !errors.As(err, &eerr) {
		eerr = NewEvalError(ErrorInternal, err.Error())
	}
	if eerr.Line == 0 {
		tok := tokenOf(node)
		eerr.Line = tok.Line
		eerr.Column = tok.Column
	}
	return eerr
}

func tokenOf(node ast.Expression) token.Token {
	switch n := node.(type) {
	case *ast.Identifier:
		return n.Token
	case *ast.CallExpression:
		if id, ok := n.Function.(*ast.Identifier); ok {
			return id.Token
		}
		return n.Token
	case *ast.InfixExpression:
		return n.Token
	case *ast.PrefixExpression:
		return n.Token
	case *ast.IndexExpression:
		return n.Token
	case *ast.MemberExpression:
		return n.Token
	case *ast.RangeExpression:
		return n.Token
	case *ast.MatrixLiteral:
		return n.Token
	case *ast.ConditionalExpression:
		return n.Token
	case *ast.PostfixExpression:
		return n.Token
	case *ast.NumberLiteral:
		return n.Token
	case *ast.StringLiteral:
		return n.Token
	}
	return token.Token{}
}

func (env *environment) eval1(node ast.Expression) (Value, error) {
	switch n := node.(type) {
	case *ast.NumberLiteral:
		return n.Value, nil
	case *ast.StringLiteral:
		return n.Value, nil
	case *ast.BooleanLiteral:
		return n.Value, nil
	case *ast.NullLiteral:
		return nil, nil

	case *ast.Identifier:
		v, ok := env.lookup(n.Value)
		if !ok {
			return nil, undefinedSymbol(n.Value)
		}
		if IsError(v) {
			err := newEvalErrorf(ErrorTypeMismatch, "Variable %s holds an error", n.Value)
			err.Symbol = n.Value
			return nil, err
		}
		if IsEmpty(v) {
			return nil, nil
		}
		return v, nil

	case *ast.MatrixLiteral:
		return env.evalMatrixLiteral(n)

	case *ast.PrefixExpression:
		right, err := env.evalExpression(n.Right)
		if err != nil {
			return nil, err
		}
		return unaryOp(n.Operator, right)

	case *ast.PostfixExpression:
		left, err := env.evalExpression(n.Left)
		if err != nil {
			return nil, err
		}
		return factorial(left)

	case *ast.InfixExpression:
		return env.evalInfix(n)

	case *ast.ConditionalExpression:
		cond, err := env.evalExpression(n.Condition)
		if err != nil {
			return nil, err
		}
		ok, err := truthy(cond)
		if err != nil {
			return nil, err
		}
		if ok {
			return env.evalExpression(n.Consequence)
		}
		return env.evalExpression(n.Alternative)

	case *ast.RangeExpression:
		return env.evalRange(n)

	case *ast.CallExpression:
		return env.evalCall(n)

	case *ast.IndexExpression:
		return env.evalIndex(n)

	case *ast.MemberExpression:
		object, err := env.evalExpression(n.Object)
		if err != nil {
			return nil, err
		}
		return member(object, n.Property)

	case *ast.AllIndex:
		return nil, newEvalErrorf(ErrorParse, "':' is only allowed inside an index")
	}

	return nil, newEvalErrorf(ErrorInternal, "unknown expression %T", node)
}

func (env *environment) evalInfix(n *ast.InfixExpression) (Value, error) {
	left, err := env.evalExpression(n.Left)
	if err != nil {
		return nil, err
	}

	if n.Operator == "&&" || n.Operator == "||" {
		l, err := truthy(left)
		if err != nil {
			return nil, err
		}
		if n.Operator == "&&" && !l {
			return false, nil
		}
		if n.Operator == "||" && l {
			return true, nil
		}
		right, err := env.evalExpression(n.Right)
		if err != nil {
			return nil, err
		}
		return truthy(right)
	}

	right, err := env.evalExpression(n.Right)
	if err != nil {
		return nil, err
	}
	return binaryOp(n.Operator, left, right)
}

// evalMatrixLiteral builds a vector or matrix. Rows made of vectors are
// concatenated; a single row of equal-length vectors stacks into a matrix.
func (env *environment) evalMatrixLiteral(n *ast.MatrixLiteral) (Value, error) {
	if len(n.Rows) == 0 {
		return NewVector(nil), nil
	}

	rows := make([][]Value, len(n.Rows))
	for i, row := range n.Rows {
		values := make([]Value, len(row))
		for j, elem := range row {
			v, err := env.evalExpression(elem)
			if err != nil {
				return nil, err
			}
			values[j] = v
		}
		rows[i] = values
	}

	if len(rows) == 1 {
		return stackOrVector(rows[0])
	}

	var data []Value
	cols := -1
	for _, row := range rows {
		flat, err := flattenRow(row)
		if err != nil {
			return nil, err
		}
		if cols >= 0 && len(flat) != cols {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%d != %d)", cols, len(flat))
		}
		cols = len(flat)
		data = append(data, flat...)
	}
	return NewMatrix(len(rows), cols, data), nil
}

func stackOrVector(elems []Value) (Value, error) {
	vectors := 0
	for _, v := range elems {
		if m, ok := v.(*Matrix); ok {
			if !m.vector {
				return nil, newEvalErrorf(ErrorDimensionMismatch, "Cannot nest a %s matrix in a literal", formatSize(m))
			}
			vectors++
		}
	}

	if vectors == 0 {
		return NewVector(elems), nil
	}
	if vectors != len(elems) {
		return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch: cannot mix scalars and vectors in a literal")
	}

	cols := elems[0].(*Matrix).Len()
	data := make([]Value, 0, len(elems)*cols)
	for _, v := range elems {
		m := v.(*Matrix)
		if m.Len() != cols {
			return nil, newEvalErrorf(ErrorDimensionMismatch, "Dimension mismatch (%d != %d)", cols, m.Len())
		}
		data = append(data, m.data...)
	}
	return NewMatrix(len(elems), cols, data), nil
}

func flattenRow(row []Value) ([]Value, error) {
	var flat []Value
	for _, v := range row {
		if m, ok := v.(*Matrix); ok {
			if !m.vector {
				return nil, newEvalErrorf(ErrorDimensionMismatch, "Cannot nest a %s matrix in a row", formatSize(m))
			}
			flat = append(flat, m.data...)
			continue
		}
		flat = append(flat, v)
	}
	return flat, nil
}

func (env *environment) evalRange(n *ast.RangeExpression) (Value, error) {
	bound := func(expr ast.Expression) (float64, error) {
		v, err := env.evalExpression(expr)
		if err != nil {
			return 0, err
		}
		f, ok := toNumber(v)
		if !ok {
			return 0, newEvalErrorf(ErrorTypeMismatch, "Range bounds must be numbers (got %s)", typeName(v))
		}
		return f, nil
	}

	start, err := bound(n.Start)
	if err != nil {
		return nil, err
	}
	end, err := bound(n.End)
	if err != nil {
		return nil, err
	}
	step := 1.0
	if n.Step != nil {
		if step, err = bound(n.Step); err != nil {
			return nil, err
		}
	}
	return makeRange(start, end, step)
}

// makeRange returns the inclusive sequence start, start+step, ..., end.
func makeRange(start, end, step float64) (*Matrix, error) {
	if step == 0 {
		return nil, newEvalErrorf(ErrorArgument, "Step must not be zero")
	}
	if math.IsNaN(start) || math.IsNaN(end) || math.IsNaN(step) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return nil, newEvalErrorf(ErrorArgument, "Range bounds must be finite")
	}

	count := math.Floor((end-start)/step+1e-10) + 1
	if count <= 0 {
		return NewVector(nil), nil
	}
	if count > maxRangeLength {
		return nil, newEvalErrorf(ErrorArgument, "Range too large (%s elements)", formatNumber(count))
	}

	values := make([]Value, int(count))
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return NewVector(values), nil
}

func (env *environment) evalCall(n *ast.CallExpression) (Value, error) {
	args := make([]Value, len(n.Arguments))
	for i, arg := range n.Arguments {
		v, err := env.evalExpression(arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	name := ""
	if id, ok := n.Function.(*ast.Identifier); ok {
		name = id.Value
		if v, ok := env.lookup(name); ok {
			if fn, ok := v.(*Function); ok {
				return env.callFunction(fn, args)
			}
		}
		if builtin, ok := env.eval.builtins[name]; ok {
			return builtin(args)
		}
		return nil, unknownFunction(name)
	}

	callee, err := env.evalExpression(n.Function)
	if err != nil {
		return nil, err
	}
	if fn, ok := callee.(*Function); ok {
		return env.callFunction(fn, args)
	}
	return nil, newEvalErrorf(ErrorTypeMismatch, "%s is not a function", n.Function.String())
}

func (env *environment) callFunction(fn *Function, args []Value) (Value, error) {
	if len(args) != len(fn.Params) {
		return nil, newEvalErrorf(ErrorArgument, "Wrong number of arguments in function %s (%d provided, %d expected)",
			fn.Name, len(args), len(fn.Params))
	}
	if env.depth >= MaxCallDepth {
		return nil, newEvalErrorf(ErrorInternal, "Maximum call depth of %d exceeded in %s", MaxCallDepth, fn.Name)
	}

	defining := fn.env
	if defining == nil {
		defining = env
	}
	local := defining.child()
	local.depth = env.depth + 1
	for i, p := range fn.Params {
		local.vars[p] = args[i]
	}
	return local.evalExpression(fn.Body)
}

func (env *environment) evalIndex(n *ast.IndexExpression) (Value, error) {
	target, err := env.evalExpression(n.Left)
	if err != nil {
		return nil, err
	}

	indices := make([]Value, len(n.Indices))
	for i, idx := range n.Indices {
		if _, ok := idx.(*ast.AllIndex); ok {
			indices[i] = allIndex{}
			continue
		}
		v, err := env.evalExpression(idx)
		if err != nil {
			return nil, err
		}
		indices[i] = v
	}

	return index(target, indices)
}

// Describe formats an evaluation failure for display, e.g. in a REPL.
func Describe(err error) string {
	var eerr *EvalError
	if errors.As(err, &eerr) {
		if eerr.Line > 0 {
			return fmt.Sprintf("%s (line %d, column %d)", eerr.Message, eerr.Line, eerr.Column)
		}
		return eerr.Message
	}
	return err.Error()
}
