// Package parser builds formula syntax trees with a Pratt parser.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula/ast"
	"github.com/zurustar/flowsheet/pkg/formula/lexer"
	"github.com/zurustar/flowsheet/pkg/formula/token"
)

// Precedence levels for operators.
const (
	_ int = iota
	LOWEST
	CONDITIONAL // a ? b : c
	OR          // || or
	AND         // && and
	EQUALS      // ==
	LESSGREATER // > or <
	RANGE       // a:b
	SUM         // +
	PRODUCT     // *
	PREFIX      // -X or !X
	POWER       // ^
	POSTFIX     // X!
	CALL        // f(X), x[i], obj.key
)

var precedences = map[token.TokenType]int{
	token.QUESTION: CONDITIONAL,
	token.OR:       OR,
	token.WORD_OR:  OR,
	token.AND:      AND,
	token.WORD_AND: AND,
	token.EQ:       EQUALS,
	token.NOT_EQ:   EQUALS,
	token.LT:       LESSGREATER,
	token.LTE:      LESSGREATER,
	token.GT:       LESSGREATER,
	token.GTE:      LESSGREATER,
	token.COLON:    RANGE,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.PERCENT:  PRODUCT,
	token.DOTSTAR:  PRODUCT,
	token.DOTSLASH: PRODUCT,
	token.CARET:    POWER,
	token.DOTCARET: POWER,
	token.BANG:     POSTFIX,
	token.LPAREN:   CALL,
	token.LBRACKET: CALL,
	token.DOT:      CALL,
}

// Error is a syntax error with its position in the source.
type Error struct {
	Message string
	Line    int
	Column  int
	Context string // source excerpt with a caret under the column
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at line %d, column %d", e.Message, e.Line, e.Column)
}

// Parser parses formula source into an AST.
type Parser struct {
	l      *lexer.Lexer
	errors []*Error
	source []string // Source code lines for error reporting

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// New creates a new Parser.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:      l,
		errors: []*Error{},
		source: strings.Split(l.GetSource(), "\n"),
	}

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.NUMBER, p.parseNumberLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.NULL, p.parseNull)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.PLUS, p.parsePrefixExpression)
	p.registerPrefix(token.BANG, p.parsePrefixExpression)
	p.registerPrefix(token.WORD_NOT, p.parsePrefixExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.LBRACKET, p.parseMatrixLiteral)

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	for _, t := range []token.TokenType{
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.PERCENT,
		token.DOTSTAR, token.DOTSLASH,
		token.EQ, token.NOT_EQ, token.LT, token.LTE, token.GT, token.GTE,
		token.AND, token.WORD_AND, token.OR, token.WORD_OR,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.CARET, p.parsePowerExpression)
	p.registerInfix(token.DOTCARET, p.parsePowerExpression)
	p.registerInfix(token.COLON, p.parseRangeExpression)
	p.registerInfix(token.QUESTION, p.parseConditionalExpression)
	p.registerInfix(token.BANG, p.parsePostfixExpression)
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)
	p.registerInfix(token.DOT, p.parseMemberExpression)

	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()

	return p
}

// Parse lexes and parses input, returning the first syntax error if any.
func Parse(input string) (*ast.Program, error) {
	p := New(lexer.New(input))
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return program, errs[0]
	}
	return program, nil
}

// Errors returns the parser errors.
func (p *Parser) Errors() []*Error {
	return p.errors
}

// ParseProgram parses every statement in the input. Statements are
// separated by newlines or semicolons; a semicolon hides the result of the
// statement it terminates.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	program.Statements = []ast.Statement{}

	for !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.NEWLINE) || p.curTokenIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}

		errorsBefore := len(p.errors)
		stmt := p.parseStatement()
		if stmt == nil || len(p.errors) > errorsBefore {
			p.skipLine()
			continue
		}

		switch {
		case p.peekTokenIs(token.SEMICOLON):
			p.nextToken()
			hide(stmt)
		case p.peekTokenIs(token.NEWLINE), p.peekTokenIs(token.EOF):
		default:
			p.unexpectedError(p.peekToken)
			p.nextToken()
			p.skipLine()
			continue
		}

		program.Statements = append(program.Statements, stmt)
		p.nextToken()
	}

	return program
}

func hide(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		s.Hidden = true
	case *ast.AssignStatement:
		s.Hidden = true
	case *ast.FunctionAssignStatement:
		s.Hidden = true
	}
}

// skipLine discards tokens up to the end of the current line.
func (p *Parser) skipLine() {
	for !p.curTokenIs(token.NEWLINE) && !p.curTokenIs(token.EOF) {
		p.nextToken()
	}
}

func (p *Parser) parseStatement() ast.Statement {
	first := p.curToken
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}

	if !p.peekTokenIs(token.ASSIGN) {
		return &ast.ExpressionStatement{Token: first, Expression: expr}
	}

	p.nextToken()
	assign := p.curToken

	switch target := expr.(type) {
	case *ast.Identifier:
		p.nextToken()
		value := p.parseExpression(LOWEST)
		if value == nil {
			return nil
		}
		return &ast.AssignStatement{Token: assign, Name: target, Value: value}

	case *ast.CallExpression:
		name, ok := target.Function.(*ast.Identifier)
		if !ok {
			p.addError("invalid function definition", assign)
			return nil
		}
		params := make([]*ast.Identifier, 0, len(target.Arguments))
		for _, arg := range target.Arguments {
			param, ok := arg.(*ast.Identifier)
			if !ok {
				p.addError(fmt.Sprintf("invalid parameter %s in definition of %s", arg.String(), name.Value), assign)
				return nil
			}
			params = append(params, param)
		}
		p.nextToken()
		body := p.parseExpression(LOWEST)
		if body == nil {
			return nil
		}
		return &ast.FunctionAssignStatement{Token: assign, Name: name, Parameters: params, Body: body}
	}

	p.addError(fmt.Sprintf("invalid assignment target %s", expr.String()), assign)
	return nil
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()
	if leftExp == nil {
		return nil
	}

	for !p.peekTokenIs(token.EOF) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()
		leftExp = infix(leftExp)
		if leftExp == nil {
			return nil
		}
	}

	return leftExp
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	lit := &ast.NumberLiteral{Token: p.curToken}

	literal := p.curToken.Literal
	if strings.HasPrefix(literal, "0x") || strings.HasPrefix(literal, "0X") {
		value, err := strconv.ParseInt(literal, 0, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid number %q", literal), p.curToken)
			return nil
		}
		lit.Value = float64(value)
	} else {
		value, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid number %q", literal), p.curToken)
			return nil
		}
		lit.Value = value
	}

	// Implicit multiplication: 2x, 3(a + b)
	if p.peekTokenIs(token.IDENT) || p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		tok := token.Token{Type: token.ASTERISK, Literal: "*", Line: p.curToken.Line, Column: p.curToken.Column}
		right := p.parseExpression(PRODUCT)
		if right == nil {
			return nil
		}
		return &ast.InfixExpression{Token: tok, Left: lit, Operator: "*", Right: right}
	}

	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseNull() ast.Expression {
	return &ast.NullLiteral{Token: p.curToken}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expression := &ast.PrefixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
	}
	if p.curTokenIs(token.WORD_NOT) || p.curTokenIs(token.BANG) {
		expression.Operator = "not"
	}

	p.nextToken()
	expression.Right = p.parseExpression(PREFIX)
	if expression.Right == nil {
		return nil
	}

	return expression
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expression := &ast.InfixExpression{
		Token:    p.curToken,
		Operator: normalizeOperator(p.curToken),
		Left:     left,
	}

	precedence := p.curPrecedence()
	p.nextToken()
	expression.Right = p.parseExpression(precedence)
	if expression.Right == nil {
		return nil
	}

	return expression
}

// parsePowerExpression parses ^ and .^, which associate to the right.
func (p *Parser) parsePowerExpression(left ast.Expression) ast.Expression {
	expression := &ast.InfixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
		Left:     left,
	}

	p.nextToken()
	expression.Right = p.parseExpression(POWER - 1)
	if expression.Right == nil {
		return nil
	}

	return expression
}

func (p *Parser) parsePostfixExpression(left ast.Expression) ast.Expression {
	return &ast.PostfixExpression{Token: p.curToken, Left: left, Operator: "!"}
}

// parseRangeExpression parses start:end and folds a second colon into
// start:step:end.
func (p *Parser) parseRangeExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	right := p.parseExpression(RANGE)
	if right == nil {
		return nil
	}

	if r, ok := left.(*ast.RangeExpression); ok && r.Step == nil {
		return &ast.RangeExpression{Token: r.Token, Start: r.Start, Step: r.End, End: right}
	}
	return &ast.RangeExpression{Token: tok, Start: left, End: right}
}

func (p *Parser) parseConditionalExpression(condition ast.Expression) ast.Expression {
	expression := &ast.ConditionalExpression{Token: p.curToken, Condition: condition}

	p.nextToken()
	// A bare colon here closes the conditional, so ranges need parentheses.
	expression.Consequence = p.parseExpression(RANGE)
	if expression.Consequence == nil {
		return nil
	}

	if !p.expectPeek(token.COLON) {
		return nil
	}

	p.nextToken()
	expression.Alternative = p.parseExpression(LOWEST)
	if expression.Alternative == nil {
		return nil
	}

	return expression
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()

	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}

	return exp
}

// parseMatrixLiteral parses [a, b; c, d]. Newlines are allowed between
// elements.
func (p *Parser) parseMatrixLiteral() ast.Expression {
	lit := &ast.MatrixLiteral{Token: p.curToken}

	p.skipPeekNewlines()
	if p.peekTokenIs(token.RBRACKET) {
		p.nextToken()
		return lit
	}

	var row []ast.Expression
	for {
		p.nextToken()
		elem := p.parseExpression(LOWEST)
		if elem == nil {
			return nil
		}
		row = append(row, elem)

		p.skipPeekNewlines()
		switch {
		case p.peekTokenIs(token.COMMA):
			p.nextToken()
			p.skipPeekNewlines()
		case p.peekTokenIs(token.SEMICOLON):
			p.nextToken()
			p.skipPeekNewlines()
			lit.Rows = append(lit.Rows, row)
			row = nil
		case p.peekTokenIs(token.RBRACKET):
			p.nextToken()
			lit.Rows = append(lit.Rows, row)
			return lit
		default:
			p.peekError(token.RBRACKET)
			return nil
		}
	}
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	exp := &ast.CallExpression{Token: p.curToken, Function: function}
	args, ok := p.parseExpressionList(token.RPAREN)
	if !ok {
		return nil
	}
	exp.Arguments = args
	return exp
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	exp := &ast.IndexExpression{Token: p.curToken, Left: left}
	indices, ok := p.parseExpressionList(token.RBRACKET)
	if !ok {
		return nil
	}
	if len(indices) == 0 {
		p.addError("empty index", exp.Token)
		return nil
	}
	exp.Indices = indices
	return exp
}

func (p *Parser) parseMemberExpression(object ast.Expression) ast.Expression {
	exp := &ast.MemberExpression{Token: p.curToken, Object: object}
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	exp.Property = p.curToken.Literal
	return exp
}

// parseExpressionList parses comma separated expressions up to end. Inside
// an index a lone ':' selects a whole dimension.
func (p *Parser) parseExpressionList(end token.TokenType) ([]ast.Expression, bool) {
	list := []ast.Expression{}

	if p.peekTokenIs(end) {
		p.nextToken()
		return list, true
	}

	for {
		p.nextToken()
		if end == token.RBRACKET && p.curTokenIs(token.COLON) &&
			(p.peekTokenIs(token.COMMA) || p.peekTokenIs(token.RBRACKET)) {
			list = append(list, &ast.AllIndex{Token: p.curToken})
		} else {
			elem := p.parseExpression(LOWEST)
			if elem == nil {
				return nil, false
			}
			list = append(list, elem)
		}

		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}

	if !p.expectPeek(end) {
		return nil, false
	}

	return list, true
}

func normalizeOperator(tok token.Token) string {
	switch tok.Type {
	case token.WORD_AND:
		return "&&"
	case token.WORD_OR:
		return "||"
	}
	return tok.Literal
}

func (p *Parser) curTokenIs(t token.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) skipPeekNewlines() {
	for p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) peekError(t token.TokenType) {
	p.addError(fmt.Sprintf("expected %s, got %s", t, describe(p.peekToken)), p.peekToken)
}

func (p *Parser) noPrefixParseFnError(tok token.Token) {
	p.unexpectedError(tok)
}

func (p *Parser) unexpectedError(tok token.Token) {
	switch tok.Type {
	case token.EOF, token.NEWLINE:
		p.addError("unexpected end of expression", tok)
	case token.ILLEGAL:
		if tok.Literal == "unterminated string" {
			p.addError(tok.Literal, tok)
			return
		}
		p.addError(fmt.Sprintf("illegal character %q", tok.Literal), tok)
	default:
		p.addError(fmt.Sprintf("unexpected %s", describe(tok)), tok)
	}
}

func (p *Parser) addError(msg string, tok token.Token) {
	p.errors = append(p.errors, &Error{
		Message: msg,
		Line:    tok.Line,
		Column:  tok.Column,
		Context: p.addContext(tok.Line, tok.Column),
	})
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of input"
	case token.NEWLINE:
		return "end of line"
	case token.STRING:
		return strconv.Quote(tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// addContext renders the source line of an error with a pointer to the
// column.
func (p *Parser) addContext(line, column int) string {
	if line < 1 || line > len(p.source) {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  > %4d | %s\n", line, p.source[line-1])
	if column > 0 {
		b.WriteString(strings.Repeat(" ", column+8))
		b.WriteString("^\n")
	}
	return b.String()
}

func (p *Parser) registerPrefix(tokenType token.TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}
