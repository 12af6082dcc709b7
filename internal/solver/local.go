package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/symsteer/internal/expr"
)

// DefaultBudget bounds the number of candidate models Local evaluates.
const DefaultBudget = 1 << 20

// Local is an in-process solver. Byte equalities between reads and against
// constants are solved exactly with union-find; whatever remains is decided
// by bounded enumeration over the bytes it mentions.
type Local struct {
	// Budget is the maximum number of enumerated candidates, DefaultBudget if
	// zero.
	Budget int
}

// NewLocal returns a solver with the default budget.
func NewLocal() *Local {
	return &Local{}
}

type cell struct {
	arr *expr.Array
	idx int
}

type classes struct {
	parent map[cell]cell
	value  map[cell]uint64
}

func (c *classes) find(x cell) cell {
	p, ok := c.parent[x]
	if !ok || p == x {
		return x
	}
	r := c.find(p)
	c.parent[x] = r
	return r
}

// union merges two classes and reports false on a constant conflict.
func (c *classes) union(a, b cell) bool {
	ra, rb := c.find(a), c.find(b)
	if ra == rb {
		return true
	}
	va, oka := c.value[ra]
	vb, okb := c.value[rb]
	if oka && okb && va != vb {
		return false
	}
	c.parent[ra] = rb
	if oka && !okb {
		c.value[rb] = va
	}
	return true
}

func (c *classes) bind(a cell, v uint64) bool {
	r := c.find(a)
	if old, ok := c.value[r]; ok {
		return old == v
	}
	c.value[r] = v
	return true
}

type model struct {
	cls  *classes
	free map[cell]uint64
}

func (m *model) assignment(arrays map[*expr.Array]bool) expr.Assignment {
	out := make(expr.Assignment, len(arrays))
	for a := range arrays {
		b := make([]byte, a.Size)
		for i := range b {
			r := m.cls.find(cell{a, i})
			if v, ok := m.cls.value[r]; ok {
				b[i] = byte(v)
			} else {
				b[i] = byte(m.free[r])
			}
		}
		out[a] = b
	}
	return out
}

func (l *Local) search(ctx context.Context, constraints []expr.Expr) (*model, map[*expr.Array]bool, error) {
	cls := &classes{parent: make(map[cell]cell), value: make(map[cell]uint64)}
	arrays := make(map[*expr.Array]bool)
	for _, a := range expr.Arrays(constraints...) {
		arrays[a] = true
	}

	var rest []expr.Expr
	for _, c := range constraints {
		for _, e := range expr.Conjuncts(c) {
			ok, handled := l.absorb(cls, e)
			if !ok {
				return nil, nil, ErrUnsat
			}
			if !handled {
				rest = append(rest, e)
			}
		}
	}

	// Free roots mentioned by the remaining constraints, in stable order.
	var free []cell
	seen := make(map[cell]bool)
	for _, e := range rest {
		expr.Walk(e, func(x expr.Expr) {
			r, ok := x.(expr.Read)
			if !ok {
				return
			}
			root := cls.find(cell{r.Array, r.Index})
			if _, bound := cls.value[root]; bound || seen[root] {
				return
			}
			seen[root] = true
			free = append(free, root)
		})
	}

	m := &model{cls: cls, free: make(map[cell]uint64)}
	budget := l.Budget
	if budget == 0 {
		budget = DefaultBudget
	}
	check := func() bool {
		a := m.assignment(arrays)
		for _, e := range rest {
			if expr.Eval(e, a) == 0 {
				return false
			}
		}
		return true
	}

	var enumerate func(i int) (bool, error)
	enumerate = func(i int) (bool, error) {
		if i == len(free) {
			budget--
			if budget < 0 {
				return false, ErrBudget
			}
			return check(), nil
		}
		for v := 0; v < 256; v++ {
			if v%64 == 0 {
				if err := ctx.Err(); err != nil {
					return false, err
				}
			}
			m.free[free[i]] = uint64(v)
			ok, err := enumerate(i + 1)
			if ok || err != nil {
				return ok, err
			}
		}
		delete(m.free, free[i])
		return false, nil
	}
	ok, err := enumerate(0)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnsat
	}
	return m, arrays, nil
}

// absorb folds byte equalities into the classes. handled is false when the
// constraint must be checked by enumeration.
func (l *Local) absorb(cls *classes, e expr.Expr) (ok, handled bool) {
	switch x := e.(type) {
	case expr.Const:
		return x.Value != 0, true
	case expr.Binary:
		if x.Op != expr.KindEq {
			return true, false
		}
		lr, lok := x.L.(expr.Read)
		rr, rok := x.R.(expr.Read)
		lc, lcok := x.L.(expr.Const)
		rc, rcok := x.R.(expr.Const)
		switch {
		case lok && rok:
			return cls.union(cell{lr.Array, lr.Index}, cell{rr.Array, rr.Index}), true
		case lok && rcok:
			return rc.Value <= 0xff && cls.bind(cell{lr.Array, lr.Index}, rc.Value), true
		case lcok && rok:
			return lc.Value <= 0xff && cls.bind(cell{rr.Array, rr.Index}, lc.Value), true
		case lcok && rcok:
			return lc.Value == rc.Value, true
		}
	}
	return true, false
}

// MayBeTrue implements Solver.
func (l *Local) MayBeTrue(ctx context.Context, constraints []expr.Expr) (bool, error) {
	_, _, err := l.search(ctx, constraints)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnsat):
		return false, nil
	default:
		return false, err
	}
}

// Solve implements Solver. Arrays not mentioned by the constraints are
// zero-filled.
func (l *Local) Solve(ctx context.Context, constraints []expr.Expr, arrays []*expr.Array) ([][]byte, error) {
	m, _, err := l.search(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	want := make(map[*expr.Array]bool, len(arrays))
	for _, a := range arrays {
		want[a] = true
	}
	a := m.assignment(want)
	out := make([][]byte, len(arrays))
	for i, arr := range arrays {
		out[i] = a[arr]
	}
	return out, nil
}
