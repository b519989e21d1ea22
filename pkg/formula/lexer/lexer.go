// Package lexer provides lexical analysis for formula expressions.
package lexer

import (
	"strings"

	"github.com/zurustar/flowsheet/pkg/formula/token"
)

// Lexer tokenizes formula source text.
type Lexer struct {
	input        string
	position     int  // current position in input
	readPosition int  // current reading position (after current char)
	ch           byte // current char
	line         int  // current line number
	column       int  // current column number
}

// New creates a new Lexer.
func New(input string) *Lexer {
	l := &Lexer{
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

// NextToken returns the next token.
func (l *Lexer) NextToken() token.Token {
	var tok token.Token

	l.skipWhitespace()

	tok.Line = l.line
	tok.Column = l.column

	switch l.ch {
	case '\n':
		tok = l.newToken(token.NEWLINE, l.ch)
		l.readChar()
		return tok
	case '#':
		// Comment runs to the end of the line
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
		return l.NextToken()
	case '=':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(token.EQ)
		} else {
			tok = l.newToken(token.ASSIGN, l.ch)
		}
	case '+':
		tok = l.newToken(token.PLUS, l.ch)
	case '-':
		tok = l.newToken(token.MINUS, l.ch)
	case '*':
		tok = l.newToken(token.ASTERISK, l.ch)
	case '/':
		tok = l.newToken(token.SLASH, l.ch)
	case '%':
		tok = l.newToken(token.PERCENT, l.ch)
	case '^':
		tok = l.newToken(token.CARET, l.ch)
	case '!':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(token.NOT_EQ)
		} else {
			tok = l.newToken(token.BANG, l.ch)
		}
	case '<':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(token.LTE)
		} else {
			tok = l.newToken(token.LT, l.ch)
		}
	case '>':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(token.GTE)
		} else {
			tok = l.newToken(token.GT, l.ch)
		}
	case '&':
		if l.peekChar() == '&' {
			tok = l.twoCharToken(token.AND)
		} else {
			tok = l.newToken(token.ILLEGAL, l.ch)
		}
	case '|':
		if l.peekChar() == '|' {
			tok = l.twoCharToken(token.OR)
		} else {
			tok = l.newToken(token.ILLEGAL, l.ch)
		}
	case '.':
		switch {
		case l.peekChar() == '*':
			tok = l.twoCharToken(token.DOTSTAR)
		case l.peekChar() == '/':
			tok = l.twoCharToken(token.DOTSLASH)
		case l.peekChar() == '^':
			tok = l.twoCharToken(token.DOTCARET)
		case isDigit(l.peekChar()):
			return l.readNumber(tok.Line, tok.Column)
		default:
			tok = l.newToken(token.DOT, l.ch)
		}
	case '?':
		tok = l.newToken(token.QUESTION, l.ch)
	case ':':
		tok = l.newToken(token.COLON, l.ch)
	case ',':
		tok = l.newToken(token.COMMA, l.ch)
	case ';':
		tok = l.newToken(token.SEMICOLON, l.ch)
	case '(':
		tok = l.newToken(token.LPAREN, l.ch)
	case ')':
		tok = l.newToken(token.RPAREN, l.ch)
	case '[':
		tok = l.newToken(token.LBRACKET, l.ch)
	case ']':
		tok = l.newToken(token.RBRACKET, l.ch)
	case '"', '\'':
		literal, ok := l.readString(l.ch)
		if !ok {
			return token.Token{Type: token.ILLEGAL, Literal: "unterminated string", Line: tok.Line, Column: tok.Column}
		}
		tok.Type = token.STRING
		tok.Literal = literal
	case 0:
		tok.Literal = ""
		tok.Type = token.EOF
		return tok
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			return l.readNumber(tok.Line, tok.Column)
		}
		tok = l.newToken(token.ILLEGAL, l.ch)
	}

	l.readChar()
	return tok
}

// Tokenize returns every token up to and including EOF.
func (l *Lexer) Tokenize() []token.Token {
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++

	// The newline itself belongs to the line it terminates
	if l.position > 0 && l.position <= len(l.input) && l.input[l.position-1] == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) twoCharToken(tokenType token.TokenType) token.Token {
	line, column := l.line, l.column
	ch := l.ch
	l.readChar()
	return token.Token{Type: tokenType, Literal: string(ch) + string(l.ch), Line: line, Column: column}
}

// readIdentifier reads an identifier.
func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readNumber reads a decimal, scientific or hexadecimal number.
func (l *Lexer) readNumber(line, column int) token.Token {
	position := l.position

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar() // consume '0'
		l.readChar() // consume 'x' or 'X'
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return token.Token{Type: token.NUMBER, Literal: l.input[position:l.position], Line: line, Column: column}
	}

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// Exponent: only when digits follow, so "2e" stays NUMBER IDENT
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || ((next == '+' || next == '-') && l.readPosition+1 < len(l.input) && isDigit(l.input[l.readPosition+1])) {
			l.readChar() // consume 'e'
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return token.Token{Type: token.NUMBER, Literal: l.input[position:l.position], Line: line, Column: column}
}

// readString reads a quoted string and resolves escape sequences.
func (l *Lexer) readString(quote byte) (string, bool) {
	var b strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case 0, '\n':
			return b.String(), false
		case quote:
			return b.String(), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 0:
				return b.String(), false
			default:
				b.WriteByte(l.ch)
			}
		default:
			b.WriteByte(l.ch)
		}
	}
}

// skipWhitespace skips whitespace characters except newlines.
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
		l.readChar()
	}
}

// newToken creates a new token.
func (l *Lexer) newToken(tokenType token.TokenType, ch byte) token.Token {
	return token.Token{Type: tokenType, Literal: string(ch), Line: l.line, Column: l.column}
}

// isLetter checks if a character can start an identifier.
func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch >= 0x80
}

// isDigit checks if a character is a digit.
func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// isHexDigit checks if a character is a hexadecimal digit.
func isHexDigit(ch byte) bool {
	return ('0' <= ch && ch <= '9') || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}

// GetSource returns the source code as a string
func (l *Lexer) GetSource() string {
	return l.input
}
