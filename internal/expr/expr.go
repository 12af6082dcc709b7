// Package expr is the small bit-vector expression language used for path
// constraints and recorded output values.
//
// Every symbolic input is an Array of bytes. Expressions are immutable trees;
// values are carried in a uint64 truncated to the expression width, so widths
// above 64 bits are not representable.
package expr

import (
	"fmt"
	"strings"
)

// Bool is the width of boolean expressions.
const Bool = 1

// Byte is the width of a single array element.
const Byte = 8

// Array is a named sequence of symbolic bytes.
type Array struct {
	Name string
	Size int
}

// NewArray creates an array of size bytes.
func NewArray(name string, size int) *Array {
	return &Array{Name: name, Size: size}
}

// Expr is a node of an expression tree.
type Expr interface {
	// Width returns the width in bits.
	Width() int
	// String renders the expression in query syntax.
	String() string

	children() []Expr
	rebuild(kids []Expr) Expr
}

func mask(v uint64, w int) uint64 {
	if w >= 64 {
		return v
	}
	return v & (1<<uint(w) - 1)
}

// Const is a literal of a given width.
type Const struct {
	Value uint64
	W     int
}

// NewConst builds a constant, truncating v to w bits.
func NewConst(v uint64, w int) Const {
	return Const{Value: mask(v, w), W: w}
}

// True and False are the boolean constants.
var (
	True  = Const{Value: 1, W: Bool}
	False = Const{Value: 0, W: Bool}
)

func (c Const) Width() int { return c.W }

func (c Const) String() string {
	if c.W == Bool {
		if c.Value != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("(w%d %d)", c.W, c.Value)
}

func (c Const) children() []Expr      { return nil }
func (c Const) rebuild(_ []Expr) Expr { return c }

// Read is the byte of Array at a constant index.
type Read struct {
	Array *Array
	Index int
}

func (r Read) Width() int { return Byte }

func (r Read) String() string {
	return fmt.Sprintf("(Read w8 %d %s)", r.Index, r.Array.Name)
}

func (r Read) children() []Expr      { return nil }
func (r Read) rebuild(_ []Expr) Expr { return r }

// Kind is the operator of a Binary or Unary expression.
type Kind int

const (
	KindEq Kind = iota
	KindUlt
	KindAdd
	KindAnd
	KindOr
	KindNot
)

var kindNames = map[Kind]string{
	KindEq:  "Eq",
	KindUlt: "Ult",
	KindAdd: "Add",
	KindAnd: "And",
	KindOr:  "Or",
	KindNot: "Not",
}

// KindByName maps operator names back to kinds.
var KindByName = func() map[string]Kind {
	out := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		out[n] = k
	}
	return out
}()

func (k Kind) String() string { return kindNames[k] }

// Binary is a two-operand expression.
type Binary struct {
	Op   Kind
	L, R Expr
}

func (b Binary) Width() int {
	switch b.Op {
	case KindEq, KindUlt:
		return Bool
	default:
		return b.L.Width()
	}
}

func (b Binary) String() string {
	if b.Op == KindAdd {
		return fmt.Sprintf("(%s w%d %s %s)", b.Op, b.Width(), b.L, b.R)
	}
	return fmt.Sprintf("(%s %s %s)", b.Op, b.L, b.R)
}

func (b Binary) children() []Expr { return []Expr{b.L, b.R} }
func (b Binary) rebuild(kids []Expr) Expr {
	return Binary{Op: b.Op, L: kids[0], R: kids[1]}
}

// Not is boolean negation.
type Not struct {
	X Expr
}

func (n Not) Width() int              { return Bool }
func (n Not) String() string          { return fmt.Sprintf("(Not %s)", n.X) }
func (n Not) children() []Expr        { return []Expr{n.X} }
func (n Not) rebuild(kids []Expr) Expr { return Not{X: kids[0]} }

// Eq builds l == r.
func Eq(l, r Expr) Expr { return Binary{Op: KindEq, L: l, R: r} }

// Ult builds unsigned l < r.
func Ult(l, r Expr) Expr { return Binary{Op: KindUlt, L: l, R: r} }

// Add builds l + r modulo the operand width.
func Add(l, r Expr) Expr { return Binary{Op: KindAdd, L: l, R: r} }

// And builds the conjunction of its operands. And() is true.
func And(es ...Expr) Expr {
	if len(es) == 0 {
		return True
	}
	out := es[0]
	for _, e := range es[1:] {
		out = Binary{Op: KindAnd, L: out, R: e}
	}
	return out
}

// Or builds l || r.
func Or(l, r Expr) Expr { return Binary{Op: KindOr, L: l, R: r} }

// ReadBytes returns one Read per byte of a.
func ReadBytes(a *Array) []Expr {
	out := make([]Expr, a.Size)
	for i := range out {
		out[i] = Read{Array: a, Index: i}
	}
	return out
}

// Conjuncts flattens nested And nodes.
func Conjuncts(e Expr) []Expr {
	if b, ok := e.(Binary); ok && b.Op == KindAnd {
		return append(Conjuncts(b.L), Conjuncts(b.R)...)
	}
	return []Expr{e}
}

// Walk calls fn for e and each descendant in pre-order.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	for _, k := range e.children() {
		Walk(k, fn)
	}
}

// Arrays returns the arrays referenced by es in first-appearance order.
func Arrays(es ...Expr) []*Array {
	seen := make(map[*Array]bool)
	var out []*Array
	for _, e := range es {
		Walk(e, func(x Expr) {
			if r, ok := x.(Read); ok && !seen[r.Array] {
				seen[r.Array] = true
				out = append(out, r.Array)
			}
		})
	}
	return out
}

// Substitute replaces array references according to m. Arrays missing from
// m are kept.
func Substitute(e Expr, m map[*Array]*Array) Expr {
	if r, ok := e.(Read); ok {
		if to, ok := m[r.Array]; ok {
			return Read{Array: to, Index: r.Index}
		}
		return r
	}
	kids := e.children()
	if len(kids) == 0 {
		return e
	}
	nk := make([]Expr, len(kids))
	for i, k := range kids {
		nk[i] = Substitute(k, m)
	}
	return e.rebuild(nk)
}

// Assignment maps arrays to concrete bytes.
type Assignment map[*Array][]byte

// Eval evaluates e under a. Reads of unassigned bytes evaluate to zero.
func Eval(e Expr, a Assignment) uint64 {
	switch x := e.(type) {
	case Const:
		return x.Value
	case Read:
		if b := a[x.Array]; x.Index < len(b) {
			return uint64(b[x.Index])
		}
		return 0
	case Not:
		if Eval(x.X, a) != 0 {
			return 0
		}
		return 1
	case Binary:
		l, r := Eval(x.L, a), Eval(x.R, a)
		switch x.Op {
		case KindEq:
			return b2u(l == r)
		case KindUlt:
			return b2u(l < r)
		case KindAdd:
			return mask(l+r, x.Width())
		case KindAnd:
			return b2u(l != 0 && r != 0)
		case KindOr:
			return b2u(l != 0 || r != 0)
		}
	}
	panic(fmt.Sprintf("expr: cannot evaluate %T", e))
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Join renders es separated by sep.
func Join(es []Expr, sep string) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, sep)
}
