package rules

// Grammar, loosest binding first:
//
//	expr    := and (OR and)*
//	and     := unary (AND unary)*
//	unary   := NOT unary | cmp
//	cmp     := operand (('>' | '<' | '>=' | '<=' | '==' | '!=') operand
//	                   | IN list)?
//	operand := NUMBER | STRING | true | false | IDENT | IDENT '(' args ')'
//	         | '(' expr ')'
//	list    := '[' (literal (',' literal)*)? ']'
//
// NOT binds tighter than AND, AND tighter than OR. Compilation is pure:
// the same source always yields an equivalent AST, and nothing external
// is consulted (function names are looked up at evaluation time).

// Compile parses a rule expression into an immutable AST. On failure it
// returns a *SyntaxError carrying the offending token and position.
func Compile(expression string) (Node, error) {
	p := &parser{lex: newLexer(expression)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, &SyntaxError{Pos: p.cur.pos, Token: p.cur.text, Message: "unexpected trailing input"}
	}
	return node, nil
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

func (p *parser) unexpected(msg string) error {
	tok := p.cur.text
	if p.cur.kind == tokEOF {
		tok = "end of expression"
	}
	return &SyntaxError{Pos: p.cur.pos, Token: tok, Message: msg}
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: expr}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	var op CompareOp
	switch p.cur.kind {
	case tokGT:
		op = OpGT
	case tokLT:
		op = OpLT
	case tokGTE:
		op = OpGTE
	case tokLTE:
		op = OpLTE
	case tokEQ:
		op = OpEQ
	case tokNEQ:
		op = OpNEQ
	case tokIn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &Compare{Op: OpIn, Left: left, Right: list}, nil
	default:
		return left, nil
	}

	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Compare{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Node, error) {
	switch p.cur.kind {
	case tokNumber:
		n := &NumberLit{Value: p.cur.num}
		return n, p.advance()
	case tokString:
		n := &StringLit{Value: p.cur.text}
		return n, p.advance()
	case tokTrue:
		return &BoolLit{Value: true}, p.advance()
	case tokFalse:
		return &BoolLit{Value: false}, p.advance()
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, p.unexpected("expected )")
		}
		return inner, p.advance()
	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokLParen {
			return p.parseCallArgs(name)
		}
		return &Ident{Name: name}, nil
	default:
		return nil, p.unexpected("expected a value, identifier, or (")
	}
}

func (p *parser) parseCallArgs(name string) (Node, error) {
	// cur is '('
	if err := p.advance(); err != nil {
		return nil, err
	}
	call := &Call{Name: name}
	if p.cur.kind == tokRParen {
		return call, p.advance()
	}
	for {
		arg, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		switch p.cur.kind {
		case tokComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokRParen:
			return call, p.advance()
		default:
			return nil, p.unexpected("expected , or ) in argument list")
		}
	}
}

// parseList parses the literal list on the right-hand side of IN. Only
// literals are allowed: membership is a set test, not an expression over
// computed values.
func (p *parser) parseList() (Node, error) {
	if p.cur.kind != tokLBracket {
		return nil, p.unexpected("IN requires a literal list, e.g. ['6211','6051']")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	list := &ListLit{}
	if p.cur.kind == tokRBracket {
		return list, p.advance()
	}
	for {
		var elem Node
		switch p.cur.kind {
		case tokNumber:
			elem = &NumberLit{Value: p.cur.num}
		case tokString:
			elem = &StringLit{Value: p.cur.text}
		case tokTrue:
			elem = &BoolLit{Value: true}
		case tokFalse:
			elem = &BoolLit{Value: false}
		default:
			return nil, p.unexpected("list elements must be literals")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, elem)
		switch p.cur.kind {
		case tokComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokRBracket:
			return list, p.advance()
		default:
			return nil, p.unexpected("expected , or ] in list")
		}
	}
}
