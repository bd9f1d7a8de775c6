package script

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseError is an unrecoverable syntax problem, reported verbatim to the
// script author with a line and column.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) errorf(line, col int, format string, args ...any) error {
	return &ParseError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekByte() byte {
	if l.off >= len(l.src) {
		return 0
	}
	return l.src[l.off]
}

func (l *lexer) peekByteAt(n int) byte {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) skipSpaceAndComments() error {
	for l.off < len(l.src) {
		c := l.peekByte()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '/' && l.peekByteAt(1) == '/':
			for l.off < len(l.src) && l.peekByte() != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peekByteAt(1) == '*':
			line, col := l.line, l.col
			l.advance(2)
			closed := false
			for l.off < len(l.src) {
				if l.peekByte() == '*' && l.peekByteAt(1) == '/' {
					l.advance(2)
					closed = true
					break
				}
				l.advance(1)
			}
			if !closed {
				return l.errorf(line, col, "unterminated block comment")
			}
		default:
			return nil
		}
	}
	return nil
}

// next returns the next token. It is the only entry point; the parser keeps a
// one-token lookahead on top of it.
func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	start, line, col := l.off, l.line, l.col
	if l.off >= len(l.src) {
		return token{Kind: tokEOF, Off: start, End: start, Line: line, Col: col}, nil
	}

	c := l.peekByte()
	switch {
	case isIdentStart(c):
		return l.lexIdent(start, line, col), nil
	case c >= '0' && c <= '9':
		return l.lexNumber(start, line, col)
	case c == '"' || c == '\'':
		return l.lexString(start, line, col)
	}

	two := func(kind tokenKind) (token, error) {
		l.advance(2)
		return token{Kind: kind, Lit: l.src[start:l.off], Off: start, End: l.off, Line: line, Col: col}, nil
	}
	one := func(kind tokenKind) (token, error) {
		l.advance(1)
		return token{Kind: kind, Lit: l.src[start:l.off], Off: start, End: l.off, Line: line, Col: col}, nil
	}

	switch c {
	case '=':
		if l.peekByteAt(1) == '=' {
			return two(tokEq)
		}
		return one(tokAssign)
	case '!':
		if l.peekByteAt(1) == '=' {
			return two(tokNotEq)
		}
		return one(tokNot)
	case '<':
		if l.peekByteAt(1) == '=' {
			return two(tokLE)
		}
		return one(tokLT)
	case '>':
		if l.peekByteAt(1) == '=' {
			return two(tokGE)
		}
		return one(tokGT)
	case '&':
		if l.peekByteAt(1) == '&' {
			return two(tokAndAnd)
		}
	case '|':
		if l.peekByteAt(1) == '|' {
			return two(tokOrOr)
		}
	case '(':
		return one(tokLParen)
	case ')':
		return one(tokRParen)
	case '{':
		return one(tokLBrace)
	case '}':
		return one(tokRBrace)
	case '[':
		return one(tokLBracket)
	case ']':
		return one(tokRBracket)
	case ',':
		return one(tokComma)
	case ':':
		return one(tokColon)
	case ';':
		return one(tokSemi)
	case '.':
		return one(tokDot)
	case '+':
		return one(tokPlus)
	case '-':
		return one(tokMinus)
	case '*':
		return one(tokStar)
	case '/':
		return one(tokSlash)
	case '%':
		return one(tokPercent)
	}

	r, _ := utf8.DecodeRuneInString(l.src[l.off:])
	return token{}, l.errorf(line, col, "unexpected character %q", r)
}

func (l *lexer) lexIdent(start, line, col int) token {
	for l.off < len(l.src) && isIdentPart(l.peekByte()) {
		l.advance(1)
	}
	lit := l.src[start:l.off]
	kind := tokIdent
	if kw, ok := keywords[lit]; ok {
		kind = kw
	}
	return token{Kind: kind, Lit: lit, Off: start, End: l.off, Line: line, Col: col}
}

func (l *lexer) lexNumber(start, line, col int) (token, error) {
	seenDot := false
	for l.off < len(l.src) {
		c := l.peekByte()
		if c >= '0' && c <= '9' {
			l.advance(1)
			continue
		}
		if c == '.' && !seenDot {
			// Member access on a number literal does not occur in this
			// language, so a single dot always belongs to the number.
			nxt := l.peekByteAt(1)
			if nxt < '0' || nxt > '9' {
				break
			}
			seenDot = true
			l.advance(1)
			continue
		}
		break
	}
	lit := l.src[start:l.off]
	if isIdentStart(l.peekByte()) {
		return token{}, l.errorf(line, col, "malformed number %q", lit)
	}
	return token{Kind: tokNumber, Lit: lit, Off: start, End: l.off, Line: line, Col: col}, nil
}

func (l *lexer) lexString(start, line, col int) (token, error) {
	quote := l.peekByte()
	l.advance(1)
	var sb strings.Builder
	for {
		if l.off >= len(l.src) || l.peekByte() == '\n' {
			return token{}, l.errorf(line, col, "unterminated string")
		}
		c := l.peekByte()
		if c == quote {
			l.advance(1)
			return token{Kind: tokString, Lit: sb.String(), Off: start, End: l.off, Line: line, Col: col}, nil
		}
		if c == '\\' {
			esc := l.peekByteAt(1)
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteByte(esc)
			default:
				return token{}, l.errorf(l.line, l.col, "unknown escape \\%c", esc)
			}
			l.advance(2)
			continue
		}
		sb.WriteByte(c)
		l.advance(1)
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
