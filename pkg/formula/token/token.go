// Package token defines the lexical tokens of the formula language.
package token

type TokenType string

type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"
	NEWLINE = "NEWLINE"

	// Identifiers + Literals
	IDENT  = "IDENT"  // x, total_cost
	NUMBER = "NUMBER" // 12, 2.5, 1e-3, 0xff
	STRING = "STRING" // "abc", 'abc'

	// Operators
	ASSIGN    = "="
	PLUS      = "+"
	MINUS     = "-"
	ASTERISK  = "*"
	SLASH     = "/"
	PERCENT   = "%"
	CARET     = "^"
	DOTSTAR   = ".*"
	DOTSLASH  = "./"
	DOTCARET  = ".^"
	BANG      = "!"
	EQ        = "=="
	NOT_EQ    = "!="
	LT        = "<"
	GT        = ">"
	LTE       = "<="
	GTE       = ">="
	AND       = "&&"
	OR        = "||"
	QUESTION  = "?"
	COLON     = ":"
	DOT       = "."
	COMMA     = ","
	SEMICOLON = ";"

	// Delimiters
	LPAREN   = "("
	RPAREN   = ")"
	LBRACKET = "["
	RBRACKET = "]"

	// Keywords
	TRUE     = "TRUE"
	FALSE    = "FALSE"
	NULL     = "NULL"
	WORD_AND = "AND"
	WORD_OR  = "OR"
	WORD_NOT = "NOT"
)

var keywords = map[string]TokenType{
	"true":  TRUE,
	"false": FALSE,
	"null":  NULL,
	"and":   WORD_AND,
	"or":    WORD_OR,
	"not":   WORD_NOT,
}

// LookupIdent returns the keyword token type for ident, or IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
