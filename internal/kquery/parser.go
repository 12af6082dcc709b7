package kquery

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vk/symsteer/internal/expr"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokColon
	tokArrow
	tokEquals
	tokIdent
	tokNumber
)

type token struct {
	kind tokKind
	text string
	line int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func isIdent(r byte) bool {
	return r == '_' || r == '.' || r == '*' || r == '-' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r))
}

func (l *lexer) arrowAt(i int) bool {
	return l.src[i] == '-' && i+1 < len(l.src) && l.src[i+1] == '>'
}

func (l *lexer) next() token {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			l.line++
		}
		if c == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			break
		}
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}
	}
	start := l.pos
	c := l.src[l.pos]
	single := map[byte]tokKind{'(': tokLParen, ')': tokRParen, '[': tokLBrack, ']': tokRBrack, ':': tokColon, '=': tokEquals}
	if k, ok := single[c]; ok {
		l.pos++
		return token{kind: k, text: string(c), line: l.line}
	}
	if l.arrowAt(l.pos) {
		l.pos += 2
		return token{kind: tokArrow, text: "->", line: l.line}
	}
	for l.pos < len(l.src) && isIdent(l.src[l.pos]) && !l.arrowAt(l.pos) {
		l.pos++
	}
	if l.pos == start {
		l.pos++
		return token{kind: tokIdent, text: l.src[start:l.pos], line: l.line}
	}
	text := l.src[start:l.pos]
	if _, err := strconv.ParseUint(text, 0, 64); err == nil {
		return token{kind: tokNumber, text: text, line: l.line}
	}
	return token{kind: tokIdent, text: text, line: l.line}
}

type parser struct {
	lex    *lexer
	tok    token
	arrays map[string]*expr.Array
}

func (p *parser) next() {
	p.tok = p.lex.next()
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("kquery: line %d: %s", p.tok.line, fmt.Sprintf(format, args...))
}

func (p *parser) expect(k tokKind) error {
	if p.tok.kind != k {
		return p.errorf("unexpected %q", p.tok.text)
	}
	p.next()
	return nil
}

func (p *parser) keyword(word string) error {
	if p.tok.kind != tokIdent || p.tok.text != word {
		return p.errorf("expected %q, got %q", word, p.tok.text)
	}
	p.next()
	return nil
}

func (p *parser) number() (uint64, error) {
	if p.tok.kind != tokNumber {
		return 0, p.errorf("expected number, got %q", p.tok.text)
	}
	v, err := strconv.ParseUint(p.tok.text, 0, 64)
	if err != nil {
		return 0, p.errorf("bad number %q", p.tok.text)
	}
	p.next()
	return v, nil
}

func (p *parser) width() (int, error) {
	if p.tok.kind != tokIdent || !strings.HasPrefix(p.tok.text, "w") {
		return 0, p.errorf("expected width, got %q", p.tok.text)
	}
	w, err := strconv.Atoi(p.tok.text[1:])
	if err != nil || w <= 0 || w > 64 {
		return 0, p.errorf("bad width %q", p.tok.text)
	}
	p.next()
	return w, nil
}

// parseArray reads "array name[size] : w32 -> w8 = symbolic".
func (p *parser) parseArray() (*expr.Array, error) {
	p.next()
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected array name, got %q", p.tok.text)
	}
	name := p.tok.text
	p.next()
	if err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	size, err := p.number()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRBrack); err != nil {
		return nil, err
	}
	if err := p.expect(tokColon); err != nil {
		return nil, err
	}
	if _, err := p.width(); err != nil {
		return nil, err
	}
	if err := p.expect(tokArrow); err != nil {
		return nil, err
	}
	if _, err := p.width(); err != nil {
		return nil, err
	}
	if err := p.expect(tokEquals); err != nil {
		return nil, err
	}
	if err := p.keyword("symbolic"); err != nil {
		return nil, err
	}
	if _, dup := p.arrays[name]; dup {
		return nil, p.errorf("array %s declared twice", name)
	}
	a := expr.NewArray(name, int(size))
	p.arrays[name] = a
	return a, nil
}

func (p *parser) parseList() ([]expr.Expr, error) {
	if err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	var out []expr.Expr
	for p.tok.kind != tokRBrack {
		if p.tok.kind == tokEOF {
			return nil, p.errorf("unterminated list")
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	p.next()
	return out, nil
}

func (p *parser) parseExpr() (expr.Expr, error) {
	switch p.tok.kind {
	case tokIdent:
		switch p.tok.text {
		case "true":
			p.next()
			return expr.True, nil
		case "false":
			p.next()
			return expr.False, nil
		}
		return nil, p.errorf("unexpected %q", p.tok.text)
	case tokLParen:
		p.next()
	default:
		return nil, p.errorf("unexpected %q", p.tok.text)
	}

	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected operator, got %q", p.tok.text)
	}
	op := p.tok.text
	var (
		e   expr.Expr
		err error
	)
	switch {
	case strings.HasPrefix(op, "w"):
		e, err = p.parseConst()
	case op == "Read":
		e, err = p.parseRead()
	case op == "Not":
		p.next()
		var x expr.Expr
		if x, err = p.parseExpr(); err == nil {
			e = expr.Not{X: x}
		}
	default:
		e, err = p.parseBinary(op)
	}
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) parseConst() (expr.Expr, error) {
	w, err := p.width()
	if err != nil {
		return nil, err
	}
	v, err := p.number()
	if err != nil {
		return nil, err
	}
	return expr.NewConst(v, w), nil
}

func (p *parser) parseRead() (expr.Expr, error) {
	p.next()
	if _, err := p.width(); err != nil {
		return nil, err
	}
	idx, err := p.number()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected array name, got %q", p.tok.text)
	}
	a, ok := p.arrays[p.tok.text]
	if !ok {
		return nil, p.errorf("undeclared array %s", p.tok.text)
	}
	if int(idx) >= a.Size {
		return nil, p.errorf("read of %s[%d] out of bounds", a.Name, idx)
	}
	p.next()
	return expr.Read{Array: a, Index: int(idx)}, nil
}

func (p *parser) parseBinary(op string) (expr.Expr, error) {
	kind, ok := expr.KindByName[op]
	if !ok || kind == expr.KindNot {
		return nil, p.errorf("unknown operator %q", op)
	}
	p.next()
	if kind == expr.KindAdd {
		if _, err := p.width(); err != nil {
			return nil, err
		}
	}
	l, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	r, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return expr.Binary{Op: kind, L: l, R: r}, nil
}
