// Package ast defines the syntax tree of the formula language.
package ast

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula/token"
)

type Node interface {
	TokenLiteral() string
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Program is the root node
type Program struct {
	Statements []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Statements) > 0 {
		return p.Statements[0].TokenLiteral()
	}
	return ""
}

func (p *Program) String() string {
	parts := make([]string, 0, len(p.Statements))
	for _, s := range p.Statements {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "\n")
}

// ExpressionStatement is a bare expression, optionally silenced by a
// trailing semicolon.
type ExpressionStatement struct {
	Token      token.Token // The first token of the expression
	Expression Expression
	Hidden     bool
}

func (es *ExpressionStatement) statementNode()       {}
func (es *ExpressionStatement) TokenLiteral() string { return es.Token.Literal }
func (es *ExpressionStatement) String() string {
	if es.Expression != nil {
		return es.Expression.String()
	}
	return ""
}

// AssignStatement: name = value
type AssignStatement struct {
	Token  token.Token // token.ASSIGN
	Name   *Identifier
	Value  Expression
	Hidden bool
}

func (as *AssignStatement) statementNode()       {}
func (as *AssignStatement) TokenLiteral() string { return as.Token.Literal }
func (as *AssignStatement) String() string {
	var out bytes.Buffer
	out.WriteString(as.Name.String())
	out.WriteString(" = ")
	if as.Value != nil {
		out.WriteString(as.Value.String())
	}
	return out.String()
}

// FunctionAssignStatement: f(x, y) = body
type FunctionAssignStatement struct {
	Token      token.Token // token.ASSIGN
	Name       *Identifier
	Parameters []*Identifier
	Body       Expression
	Hidden     bool
}

func (fs *FunctionAssignStatement) statementNode()       {}
func (fs *FunctionAssignStatement) TokenLiteral() string { return fs.Token.Literal }
func (fs *FunctionAssignStatement) String() string {
	params := make([]string, 0, len(fs.Parameters))
	for _, p := range fs.Parameters {
		params = append(params, p.String())
	}
	return fs.Name.String() + "(" + strings.Join(params, ", ") + ") = " + fs.Body.String()
}

// Identifier
type Identifier struct {
	Token token.Token // token.IDENT
	Value string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) String() string       { return i.Value }

// NumberLiteral
type NumberLiteral struct {
	Token token.Token
	Value float64
}

func (nl *NumberLiteral) expressionNode()      {}
func (nl *NumberLiteral) TokenLiteral() string { return nl.Token.Literal }
func (nl *NumberLiteral) String() string       { return nl.Token.Literal }

// StringLiteral
type StringLiteral struct {
	Token token.Token
	Value string
}

func (sl *StringLiteral) expressionNode()      {}
func (sl *StringLiteral) TokenLiteral() string { return sl.Token.Literal }
func (sl *StringLiteral) String() string       { return strconv.Quote(sl.Value) }

// BooleanLiteral
type BooleanLiteral struct {
	Token token.Token
	Value bool
}

func (bl *BooleanLiteral) expressionNode()      {}
func (bl *BooleanLiteral) TokenLiteral() string { return bl.Token.Literal }
func (bl *BooleanLiteral) String() string       { return bl.Token.Literal }

// NullLiteral
type NullLiteral struct {
	Token token.Token
}

func (nl *NullLiteral) expressionNode()      {}
func (nl *NullLiteral) TokenLiteral() string { return nl.Token.Literal }
func (nl *NullLiteral) String() string       { return "null" }

// MatrixLiteral: [1, 2; 3, 4] or [[1, 2], [3, 4]]
// Rows holds one entry per ';'-separated row. A literal without ';' has a
// single row.
type MatrixLiteral struct {
	Token token.Token // token.LBRACKET
	Rows  [][]Expression
}

func (ml *MatrixLiteral) expressionNode()      {}
func (ml *MatrixLiteral) TokenLiteral() string { return ml.Token.Literal }
func (ml *MatrixLiteral) String() string {
	rows := make([]string, 0, len(ml.Rows))
	for _, row := range ml.Rows {
		rows = append(rows, joinExpressions(row))
	}
	return "[" + strings.Join(rows, "; ") + "]"
}

// PrefixExpression: -x, not x
type PrefixExpression struct {
	Token    token.Token
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode()      {}
func (pe *PrefixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PrefixExpression) String() string {
	op := pe.Operator
	if op == "not" {
		op = "not "
	}
	return "(" + op + pe.Right.String() + ")"
}

// PostfixExpression: 5!
type PostfixExpression struct {
	Token    token.Token
	Left     Expression
	Operator string
}

func (pe *PostfixExpression) expressionNode()      {}
func (pe *PostfixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PostfixExpression) String() string {
	return "(" + pe.Left.String() + pe.Operator + ")"
}

// InfixExpression: a + b
type InfixExpression struct {
	Token    token.Token
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode()      {}
func (ie *InfixExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *InfixExpression) String() string {
	return "(" + ie.Left.String() + " " + ie.Operator + " " + ie.Right.String() + ")"
}

// ConditionalExpression: cond ? a : b
type ConditionalExpression struct {
	Token       token.Token // token.QUESTION
	Condition   Expression
	Consequence Expression
	Alternative Expression
}

func (ce *ConditionalExpression) expressionNode()      {}
func (ce *ConditionalExpression) TokenLiteral() string { return ce.Token.Literal }
func (ce *ConditionalExpression) String() string {
	return "(" + ce.Condition.String() + " ? " + ce.Consequence.String() + " : " + ce.Alternative.String() + ")"
}

// RangeExpression: start:end or start:step:end
type RangeExpression struct {
	Token token.Token // token.COLON
	Start Expression
	Step  Expression // nil when omitted
	End   Expression
}

func (re *RangeExpression) expressionNode()      {}
func (re *RangeExpression) TokenLiteral() string { return re.Token.Literal }
func (re *RangeExpression) String() string {
	if re.Step != nil {
		return "(" + re.Start.String() + ":" + re.Step.String() + ":" + re.End.String() + ")"
	}
	return "(" + re.Start.String() + ":" + re.End.String() + ")"
}

// CallExpression: sqrt(x)
type CallExpression struct {
	Token     token.Token // token.LPAREN
	Function  Expression
	Arguments []Expression
}

func (ce *CallExpression) expressionNode()      {}
func (ce *CallExpression) TokenLiteral() string { return ce.Token.Literal }
func (ce *CallExpression) String() string {
	return ce.Function.String() + "(" + joinExpressions(ce.Arguments) + ")"
}

// IndexExpression: x[1], m[2, 1], obj["key"]
type IndexExpression struct {
	Token   token.Token // token.LBRACKET
	Left    Expression
	Indices []Expression
}

func (ie *IndexExpression) expressionNode()      {}
func (ie *IndexExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *IndexExpression) String() string {
	return ie.Left.String() + "[" + joinExpressions(ie.Indices) + "]"
}

// AllIndex is a bare ':' inside an index, selecting a whole dimension.
type AllIndex struct {
	Token token.Token // token.COLON
}

func (ai *AllIndex) expressionNode()      {}
func (ai *AllIndex) TokenLiteral() string { return ai.Token.Literal }
func (ai *AllIndex) String() string       { return ":" }

// MemberExpression: obj.key
type MemberExpression struct {
	Token    token.Token // token.DOT
	Object   Expression
	Property string
}

func (me *MemberExpression) expressionNode()      {}
func (me *MemberExpression) TokenLiteral() string { return me.Token.Literal }
func (me *MemberExpression) String() string {
	return me.Object.String() + "." + me.Property
}

func joinExpressions(exprs []Expression) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if e == nil {
			parts = append(parts, "<nil>")
			continue
		}
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}
