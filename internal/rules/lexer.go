package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError reports the offending token and its position (byte offset,
// 0-based) in the source expression.
type SyntaxError struct {
	Pos     int
	Token   string
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Pos, e.Token, e.Message)
	}
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Message)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokIn
	tokGT
	tokLT
	tokGTE
	tokLTE
	tokEQ
	tokNEQ
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lexer produces tokens from a rule expression. Keywords are matched
// case-insensitively (AND/and both work); identifiers keep their case.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) errf(pos int, tok, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Token: tok, Message: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '>':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokGTE, text: ">=", pos: start}, nil
		}
		return token{kind: tokGT, text: ">", pos: start}, nil
	case '<':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokLTE, text: "<=", pos: start}, nil
		}
		return token{kind: tokLT, text: "<", pos: start}, nil
	case '=':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokEQ, text: "==", pos: start}, nil
		}
		return token{}, l.errf(start, "=", "expected == (single = is not assignment)")
	case '!':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{kind: tokNEQ, text: "!=", pos: start}, nil
		}
		return token{}, l.errf(start, "!", "expected != (use NOT for negation)")
	case '\'', '"':
		return l.lexString(c)
	}

	if c >= '0' && c <= '9' {
		return l.lexNumber()
	}
	if isIdentStart(c) {
		return l.lexIdent()
	}

	return token{}, l.errf(start, string(c), "unexpected character")
}

func (l *lexer) peek() byte {
	if l.pos < len(l.src) {
		return l.src[l.pos]
	}
	return 0
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			c = l.src[l.pos]
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, l.errf(start, l.src[start:], "unterminated string literal")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	text := l.src[start:l.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, l.errf(start, text, "malformed number")
	}
	return token{kind: tokNumber, text: text, num: f, pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	text := l.src[start:l.pos]

	switch strings.ToUpper(text) {
	case "AND":
		return token{kind: tokAnd, text: text, pos: start}, nil
	case "OR":
		return token{kind: tokOr, text: text, pos: start}, nil
	case "NOT":
		return token{kind: tokNot, text: text, pos: start}, nil
	case "IN":
		return token{kind: tokIn, text: text, pos: start}, nil
	case "TRUE":
		return token{kind: tokTrue, text: text, pos: start}, nil
	case "FALSE":
		return token{kind: tokFalse, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || c == '.' || isDigit(c) || unicode.IsLetter(rune(c))
}
