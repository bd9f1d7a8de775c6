package script

import "strconv"

// Parse parses a workflow script. A failure is fundamental: the returned
// error is the single parser diagnostic (*ParseError) and no tree is produced.
func Parse(src string) (*Program, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.parseProgram()
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return p.lex.errorf(p.cur.Line, p.cur.Col, format, args...)
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.cur.Kind != kind {
		return token{}, p.errorf("expected %s, found %s", kind, p.describeCur())
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) describeCur() string {
	switch p.cur.Kind {
	case tokEOF:
		return "end of script"
	case tokIdent:
		return "'" + p.cur.Lit + "'"
	case tokString:
		return "string"
	case tokNumber:
		return "'" + p.cur.Lit + "'"
	default:
		return p.cur.Kind.String()
	}
}

func (p *parser) accept(kind tokenKind) (bool, error) {
	if p.cur.Kind != kind {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for p.cur.Kind != tokEOF {
		if p.cur.Kind != tokClass {
			return nil, p.errorf("expected class declaration, found %s", p.describeCur())
		}
		cls, err := p.parseClass()
		if err != nil {
			return nil, err
		}
		prog.Classes = append(prog.Classes, cls)
	}
	if len(prog.Classes) == 0 {
		return nil, p.errorf("script is empty")
	}
	prog.pos = prog.Classes[0].Pos()
	prog.end = prog.Classes[len(prog.Classes)-1].End()
	return prog, nil
}

func (p *parser) parseClass() (*ClassDecl, error) {
	start := p.cur.Off
	line := p.cur.Line
	if err := p.advance(); err != nil { // class
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	cls := &ClassDecl{Name: name.Lit, Line: line}
	cls.pos = start

	if ok, err := p.accept(tokExtends); err != nil {
		return nil, err
	} else if ok {
		base, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		cls.Extends = base.Lit
		// Optional generic trigger argument: Workflow<"event/type">.
		if ok, err := p.accept(tokLT); err != nil {
			return nil, err
		} else if ok {
			trig, err := p.expect(tokString)
			if err != nil {
				return nil, err
			}
			cls.TriggerType = trig.Lit
			if _, err := p.expect(tokGT); err != nil {
				return nil, err
			}
		}
	}

	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	for p.cur.Kind != tokRBrace {
		if p.cur.Kind == tokEOF {
			return nil, p.errorf("unexpected end of script in class %q", cls.Name)
		}
		async := false
		if p.cur.Kind == tokAsync {
			async = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		member, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		switch p.cur.Kind {
		case tokLParen:
			m, err := p.parseMethod(member, async)
			if err != nil {
				return nil, err
			}
			cls.Methods = append(cls.Methods, m)
		case tokAssign:
			if async {
				return nil, p.errorf("async is only valid on methods")
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			f := &FieldDef{Name: member.Lit, Value: val}
			f.pos, f.end = member.Off, val.End()
			cls.Fields = append(cls.Fields, f)
			if _, err := p.accept(tokSemi); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("expected '(' or '=' after %q in class body", member.Lit)
		}
	}
	closing := p.cur
	if err := p.advance(); err != nil {
		return nil, err
	}
	cls.end = closing.End
	return cls, nil
}

func (p *parser) parseMethod(name token, async bool) (*MethodDef, error) {
	m := &MethodDef{Name: name.Lit, Async: async}
	m.pos = name.Off
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	for p.cur.Kind != tokRParen {
		pn, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		param := &Param{Name: pn.Lit}
		param.pos, param.end = pn.Off, pn.End
		if ok, err := p.accept(tokColon); err != nil {
			return nil, err
		} else if ok {
			tn, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			param.TypeName = tn.Lit
			param.end = tn.End
		}
		m.Params = append(m.Params, param)
		if p.cur.Kind != tokRParen {
			if _, err := p.expect(tokComma); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // )
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	m.Body = body
	m.end = body.End()
	return m, nil
}

func (p *parser) parseBlock() (*BlockStmt, error) {
	open, err := p.expect(tokLBrace)
	if err != nil {
		return nil, err
	}
	blk := &BlockStmt{}
	blk.pos = open.Off
	for p.cur.Kind != tokRBrace {
		if p.cur.Kind == tokEOF {
			return nil, p.errorf("unexpected end of script, missing '}'")
		}
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, st)
	}
	closing := p.cur
	if err := p.advance(); err != nil {
		return nil, err
	}
	blk.end = closing.End
	return blk, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	switch p.cur.Kind {
	case tokConst, tokLet:
		return p.parseDecl()
	case tokIf:
		return p.parseIf()
	case tokFor:
		return p.parseForOf()
	case tokReturn:
		start, line := p.cur.Off, p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		st := &ReturnStmt{}
		st.pos = start
		st.end = start + len("return")
		// A bare return ends at ';' or '}'.
		if p.cur.Kind != tokSemi && p.cur.Kind != tokRBrace && p.cur.Line == line {
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			st.Value = val
			st.end = val.End()
		}
		if _, err := p.accept(tokSemi); err != nil {
			return nil, err
		}
		return st, nil
	case tokThrow:
		start := p.cur.Off
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		st := &ThrowStmt{Value: val}
		st.pos, st.end = start, val.End()
		if _, err := p.accept(tokSemi); err != nil {
			return nil, err
		}
		return st, nil
	case tokLBrace:
		return p.parseBlock()
	}

	line := p.cur.Line
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind == tokAssign {
		switch x.(type) {
		case *Ident, *Member, *Index:
		default:
			return nil, p.errorf("invalid assignment target")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		st := &AssignStmt{Target: x, Value: val}
		st.pos, st.end = x.Pos(), val.End()
		if _, err := p.accept(tokSemi); err != nil {
			return nil, err
		}
		return st, nil
	}
	st := &ExprStmt{X: x, Line: line}
	st.pos, st.end = x.Pos(), x.End()
	if _, err := p.accept(tokSemi); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) parseDecl() (Stmt, error) {
	isConst := p.cur.Kind == tokConst
	start, line := p.cur.Off, p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	st := &DeclStmt{Const: isConst, Name: name.Lit, Value: val, Line: line}
	st.pos, st.end = start, val.End()
	if _, err := p.accept(tokSemi); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) parseIf() (Stmt, error) {
	start := p.cur.Off
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st := &IfStmt{Cond: cond, Then: then}
	st.pos, st.end = start, then.End()
	if ok, err := p.accept(tokElse); err != nil {
		return nil, err
	} else if ok {
		var alt Stmt
		if p.cur.Kind == tokIf {
			alt, err = p.parseIf()
		} else {
			alt, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
		st.Else = alt
		st.end = alt.End()
	}
	return st, nil
}

func (p *parser) parseForOf() (Stmt, error) {
	start := p.cur.Off
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	if p.cur.Kind != tokConst && p.cur.Kind != tokLet {
		return nil, p.errorf("expected 'const' or 'let' in for-of")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokOf); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st := &ForOfStmt{Name: name.Lit, Iter: iter, Body: body}
	st.pos, st.end = start, body.End()
	return st, nil
}

// Expression parsing: precedence climbing, lowest first.

func (p *parser) parseExpr() (Expr, error) {
	return p.parseBinary(0)
}

var binaryPrec = map[tokenKind]int{
	tokOrOr:    1,
	tokAndAnd:  2,
	tokEq:      3,
	tokNotEq:   3,
	tokLT:      4,
	tokLE:      4,
	tokGT:      4,
	tokGE:      4,
	tokPlus:    5,
	tokMinus:   5,
	tokStar:    6,
	tokSlash:   6,
	tokPercent: 6,
}

func (p *parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := binaryPrec[p.cur.Kind]
		if !ok || prec <= minPrec {
			return left, nil
		}
		op := p.cur.Lit
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec)
		if err != nil {
			return nil, err
		}
		b := &BinaryExpr{Op: op, X: left, Y: right}
		b.pos, b.end = left.Pos(), right.End()
		left = b
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.cur.Kind {
	case tokAwait:
		start := p.cur.Off
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		e := &AwaitExpr{X: x}
		e.pos, e.end = start, x.End()
		return e, nil
	case tokNot, tokMinus:
		op := p.cur.Lit
		start := p.cur.Off
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		e := &UnaryExpr{Op: op, X: x}
		e.pos, e.end = start, x.End()
		return e, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.Kind {
		case tokDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			m := &Member{X: x, Name: name.Lit}
			m.pos, m.end = x.Pos(), name.End
			x = m
		case tokLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			closing, err := p.expect(tokRBracket)
			if err != nil {
				return nil, err
			}
			ix := &Index{X: x, I: idx}
			ix.pos, ix.end = x.Pos(), closing.End
			x = ix
		case tokLParen:
			lparen := p.cur.Off
			args, rparen, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			c := &Call{Fn: x, Args: args, LParen: lparen, RParen: rparen}
			c.pos, c.end = x.Pos(), rparen+1
			x = c
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs() (args []Expr, rparen int, err error) {
	if err := p.advance(); err != nil { // (
		return nil, 0, err
	}
	for p.cur.Kind != tokRParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, 0, err
		}
		args = append(args, arg)
		if p.cur.Kind != tokRParen {
			if _, err := p.expect(tokComma); err != nil {
				return nil, 0, err
			}
		}
	}
	rparen = p.cur.Off
	if err := p.advance(); err != nil {
		return nil, 0, err
	}
	return args, rparen, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.cur
	switch tok.Kind {
	case tokNew:
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != tokLParen {
			return nil, p.errorf("expected '(' after new %s", name.Lit)
		}
		lparen := p.cur.Off
		args, rparen, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		e := &NewExpr{Class: name.Lit, Args: args, LParen: lparen, RParen: rparen, Line: tok.Line}
		e.pos, e.end = tok.Off, rparen+1
		return e, nil
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e := &Ident{Name: tok.Lit}
		e.pos, e.end = tok.Off, tok.End
		return e, nil
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e := &StringLit{Value: tok.Lit}
		e.pos, e.end = tok.Off, tok.End
		return e, nil
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(tok.Lit, 64)
		if err != nil {
			return nil, p.lex.errorf(tok.Line, tok.Col, "malformed number %q", tok.Lit)
		}
		e := &NumberLit{Value: v}
		e.pos, e.end = tok.Off, tok.End
		return e, nil
	case tokTrue, tokFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e := &BoolLit{Value: tok.Kind == tokTrue}
		e.pos, e.end = tok.Off, tok.End
		return e, nil
	case tokNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e := &NullLit{}
		e.pos, e.end = tok.Off, tok.End
		return e, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return x, nil
	case tokLBracket:
		return p.parseArray()
	case tokLBrace:
		return p.parseObject()
	}
	return nil, p.errorf("unexpected %s", p.describeCur())
}

func (p *parser) parseArray() (Expr, error) {
	start := p.cur.Off
	if err := p.advance(); err != nil {
		return nil, err
	}
	arr := &ArrayLit{}
	arr.pos = start
	for p.cur.Kind != tokRBracket {
		el, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arr.Elems = append(arr.Elems, el)
		if p.cur.Kind != tokRBracket {
			if _, err := p.expect(tokComma); err != nil {
				return nil, err
			}
		}
	}
	arr.end = p.cur.End
	return arr, p.advance()
}

func (p *parser) parseObject() (Expr, error) {
	start := p.cur.Off
	if err := p.advance(); err != nil {
		return nil, err
	}
	obj := &ObjectLit{}
	obj.pos = start
	for p.cur.Kind != tokRBrace {
		key := p.cur
		quoted := false
		switch key.Kind {
		case tokIdent:
		case tokString:
			quoted = true
		default:
			return nil, p.errorf("expected property name, found %s", p.describeCur())
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		prop := &ObjectProp{Key: key.Lit, Quoted: quoted, Value: val}
		prop.pos, prop.end = key.Off, val.End()
		obj.Props = append(obj.Props, prop)
		if p.cur.Kind != tokRBrace {
			if _, err := p.expect(tokComma); err != nil {
				return nil, err
			}
		}
	}
	obj.end = p.cur.End
	return obj, p.advance()
}
