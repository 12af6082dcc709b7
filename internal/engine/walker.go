package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/graph"
	"github.com/vk/symsteer/internal/joint"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/solver"
	"github.com/vk/symsteer/internal/symbol"
)

// IDAllocator hands out state ids. *Engine implements it.
type IDAllocator interface {
	NextID() int
}

// Walker is a reference Interpreter over the program model. Data flow is
// abstracted away: every multi-way branch reads a fresh one-byte input whose
// value is the index of the successor taken, and every call to a function
// without a body records an output carrying the most recent input.
type Walker struct {
	Graph       *graph.Builder
	Solver      solver.Solver
	IDs         IDAllocator
	Participant string

	// Seeder and PathID join every state with one sender path. A nil
	// Seeder or a negative PathID runs standalone.
	Seeder *joint.Seeder
	PathID int
}

var _ Interpreter = (*Walker)(nil)

// Step implements Interpreter.
func (w *Walker) Step(ctx context.Context, st *execstate.State) ([]*execstate.State, error) {
	if w.Seeder != nil && w.PathID >= 0 {
		if _, ok := st.Joint[w.PathID]; !ok {
			if done, err := w.join(ctx, st); done || err != nil {
				return []*execstate.State{st}, err
			}
		}
	}

	in := st.PC
	switch in.Op {
	case program.OpPlain:
		w.advance(st)
	case program.OpCall:
		return w.call(ctx, st)
	case program.OpBranch:
		return w.branch(ctx, st)
	case program.OpReturn:
		site := st.Pop()
		if site == nil {
			st.Terminate(execstate.OutcomeExit, "")
			break
		}
		st.PC = site
		w.advance(st)
	case program.OpUnreachable:
		st.Terminate(execstate.OutcomeError, "unreachable executed")
	default:
		return nil, fmt.Errorf("unknown op %v", in.Op)
	}
	return []*execstate.State{st}, nil
}

// join links st with the configured sender path. done reports that st has
// been terminated.
func (w *Walker) join(ctx context.Context, st *execstate.State) (done bool, err error) {
	ok, err := w.Seeder.Check(ctx, st, w.PathID)
	if err != nil || !ok {
		return st.Done(), err
	}
	err = w.Seeder.Bind(ctx, st, w.PathID)
	var ie *joint.IncompatibleError
	if errors.As(err, &ie) {
		return true, nil
	}
	return st.Done(), err
}

// advance moves st to the instruction after its PC.
func (w *Walker) advance(st *execstate.State) {
	if next := st.PC.Next(); next != nil {
		st.Visit(next)
		return
	}
	succs := st.PC.Block.Succs
	if len(succs) == 0 {
		st.Terminate(execstate.OutcomeExit, "fell off the end of "+st.PC.Func().Name)
		return
	}
	st.Visit(succs[0].First())
}

func (w *Walker) call(ctx context.Context, st *execstate.State) ([]*execstate.State, error) {
	site := st.PC
	var bodies []*program.Function
	for _, f := range w.Graph.CallGraph().PossibleCallees(site) {
		if f.HasBody() {
			bodies = append(bodies, f)
		}
	}
	if len(bodies) == 0 {
		w.output(st, site)
		w.advance(st)
		return []*execstate.State{st}, nil
	}

	out := make([]*execstate.State, 0, len(bodies))
	for i, f := range bodies {
		c := st
		if i < len(bodies)-1 {
			c = st.Fork(w.IDs.NextID())
		}
		c.Push(f)
		out = append(out, c)
	}
	return out, nil
}

// output records the effect of an external call.
func (w *Walker) output(st *execstate.State, site *program.Instruction) {
	name := "call"
	if site.Callee != nil {
		name = localName(site.Callee.Name)
	}
	val := expr.Expr(expr.NewConst(0, expr.Byte))
	for i := len(st.Symbols) - 1; i >= 0; i-- {
		if s := st.Symbols[i]; s.IsInput() {
			val = expr.Read{Array: s.Array}
			break
		}
	}
	seq := st.NextSeq(symbol.PrefixOutAPI)
	st.AddSymbol(symbol.NewOutput(symbol.Format(symbol.PrefixOutAPI, name, w.Participant, seq), []expr.Expr{val}))
}

func (w *Walker) branch(ctx context.Context, st *execstate.State) ([]*execstate.State, error) {
	succs := st.PC.Block.Succs
	switch len(succs) {
	case 0:
		st.Terminate(execstate.OutcomeExit, "")
		return []*execstate.State{st}, nil
	case 1:
		st.Visit(succs[0].First())
		return []*execstate.State{st}, nil
	}

	seq := st.NextSeq(symbol.PrefixInAPI)
	arr := expr.NewArray(symbol.Format(symbol.PrefixInAPI, fmt.Sprintf("br%d", st.PC.ID), w.Participant, seq), 1)
	sym := symbol.NewInput(arr)
	st.AddSymbol(sym)
	if w.Seeder != nil {
		_, err := w.Seeder.Seed(ctx, st, sym)
		var ie *joint.IncompatibleError
		if errors.As(err, &ie) {
			return []*execstate.State{st}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	sel := expr.Read{Array: arr}
	last := len(succs) - 1
	var out []*execstate.State
	for i, succ := range succs {
		c := st
		if i < last {
			c = st.Fork(w.IDs.NextID())
		}
		c.AddConstraint(expr.Eq(sel, expr.NewConst(uint64(i), expr.Byte)))
		ok, err := w.Solver.MayBeTrue(ctx, c.Constraints)
		if err != nil {
			return nil, err
		}
		if !ok {
			if c == st && len(out) == 0 {
				st.Terminate(execstate.OutcomeIncompatible, "no feasible successor")
				return []*execstate.State{st}, nil
			}
			c.Release()
			continue
		}
		c.Branch(i == 0)
		c.Visit(succ.First())
		out = append(out, c)
	}
	return out, nil
}

// localName turns a function name into a symbol-safe local name.
func localName(fn string) string {
	if i := strings.LastIndexAny(fn, "./"); i >= 0 {
		fn = fn[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '-'
	}, fn)
}
