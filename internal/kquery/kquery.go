// Package kquery reads and writes the textual constraint query format stored
// inside corpus records:
//
//	array x[4] : w32 -> w8 = symbolic
//	(query [(Eq (Read w8 0 x) (w8 1))]
//	       false
//	       [(Read w8 0 x)])
//
// The query lists the constraints, the (always false) query expression and
// the expressions whose values are of interest.
package kquery

import (
	"fmt"
	"strings"

	"github.com/vk/symsteer/internal/expr"
)

// Query is a parsed constraint query.
type Query struct {
	Arrays      []*expr.Array
	Constraints []expr.Expr
	Values      []expr.Expr
}

// Print renders q. Arrays referenced by the constraints or values but missing
// from q.Arrays are declared too.
func Print(q *Query) string {
	arrays := append([]*expr.Array(nil), q.Arrays...)
	declared := make(map[*expr.Array]bool, len(arrays))
	for _, a := range arrays {
		declared[a] = true
	}
	for _, a := range expr.Arrays(append(append([]expr.Expr(nil), q.Constraints...), q.Values...)...) {
		if !declared[a] {
			declared[a] = true
			arrays = append(arrays, a)
		}
	}

	var sb strings.Builder
	for _, a := range arrays {
		fmt.Fprintf(&sb, "array %s[%d] : w32 -> w8 = symbolic\n", a.Name, a.Size)
	}
	sb.WriteString("(query [")
	sb.WriteString(expr.Join(q.Constraints, "\n        "))
	sb.WriteString("]\n       false")
	if len(q.Values) > 0 {
		sb.WriteString("\n       [")
		sb.WriteString(expr.Join(q.Values, "\n        "))
		sb.WriteString("]")
	}
	sb.WriteString(")\n")
	return sb.String()
}

// Parse reads a query produced by Print.
func Parse(text string) (*Query, error) {
	p := &parser{lex: newLexer(text), arrays: make(map[string]*expr.Array)}
	p.next()
	q := &Query{}
	for p.tok.kind == tokIdent && p.tok.text == "array" {
		a, err := p.parseArray()
		if err != nil {
			return nil, err
		}
		q.Arrays = append(q.Arrays, a)
	}
	if p.tok.kind == tokEOF {
		return q, nil
	}
	if err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	if err := p.keyword("query"); err != nil {
		return nil, err
	}
	var err error
	if q.Constraints, err = p.parseList(); err != nil {
		return nil, err
	}
	qe, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if c, ok := qe.(expr.Const); !ok || c != expr.False {
		return nil, p.errorf("only false queries are supported, got %s", qe)
	}
	if p.tok.kind == tokLBrack {
		if q.Values, err = p.parseList(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q after query", p.tok.text)
	}
	return q, nil
}
