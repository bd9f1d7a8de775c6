package script

import "fmt"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString

	// punctuation
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokComma
	tokColon
	tokSemi
	tokDot
	tokAssign
	tokLT
	tokGT

	// operators
	tokEq
	tokNotEq
	tokLE
	tokGE
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokNot
	tokAndAnd
	tokOrOr

	// keywords
	tokClass
	tokExtends
	tokNew
	tokAwait
	tokAsync
	tokConst
	tokLet
	tokIf
	tokElse
	tokFor
	tokOf
	tokReturn
	tokThrow
	tokTrue
	tokFalse
	tokNull
)

var keywords = map[string]tokenKind{
	"class":   tokClass,
	"extends": tokExtends,
	"new":     tokNew,
	"await":   tokAwait,
	"async":   tokAsync,
	"const":   tokConst,
	"let":     tokLet,
	"if":      tokIf,
	"else":    tokElse,
	"for":     tokFor,
	"of":      tokOf,
	"return":  tokReturn,
	"throw":   tokThrow,
	"true":    tokTrue,
	"false":   tokFalse,
	"null":    tokNull,
}

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of script",
	tokIdent:    "identifier",
	tokNumber:   "number",
	tokString:   "string",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBrace:   "'{'",
	tokRBrace:   "'}'",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokComma:    "','",
	tokColon:    "':'",
	tokSemi:     "';'",
	tokDot:      "'.'",
	tokAssign:   "'='",
	tokLT:       "'<'",
	tokGT:       "'>'",
	tokEq:       "'=='",
	tokNotEq:    "'!='",
	tokLE:       "'<='",
	tokGE:       "'>='",
	tokPlus:     "'+'",
	tokMinus:    "'-'",
	tokStar:     "'*'",
	tokSlash:    "'/'",
	tokPercent:  "'%'",
	tokNot:      "'!'",
	tokAndAnd:   "'&&'",
	tokOrOr:     "'||'",
}

func (k tokenKind) String() string {
	if n, ok := tokenNames[k]; ok {
		return n
	}
	for kw, kind := range keywords {
		if kind == k {
			return fmt.Sprintf("'%s'", kw)
		}
	}
	return "token"
}

// token is one lexeme. Off is the byte offset of the first character in the
// source; the injector depends on offsets being exact.
type token struct {
	Kind tokenKind
	Lit  string // identifier text, decoded string value, or number literal text
	Off  int
	End  int // byte offset one past the last character
	Line int
	Col  int
}
