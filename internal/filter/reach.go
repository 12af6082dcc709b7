package filter

import (
	"sync"

	"github.com/vk/symsteer/internal/graph"
	"github.com/vk/symsteer/internal/program"
)

type direction int

const (
	backward direction = iota
	forward
)

// Reachability is a lazily computed graph reachability filter. Use
// CFGBackward or CFGForward to create one.
type Reachability struct {
	g     *graph.Builder
	roots []*program.Instruction
	dir   direction

	once    sync.Once
	reach   map[program.InstrID]struct{}
	touched map[*program.Function]struct{}
}

// CFGBackward accepts the instructions that can reach any target through CFG
// edges, entering callers from function entries.
func CFGBackward(g *graph.Builder, targets []*program.Instruction) *Reachability {
	return &Reachability{g: g, roots: targets, dir: backward}
}

// CFGForward accepts the instructions reachable from any start through CFG
// edges, entering callees at call sites.
func CFGForward(g *graph.Builder, starts []*program.Instruction) *Reachability {
	return &Reachability{g: g, roots: starts, dir: forward}
}

func (r *Reachability) compute() {
	r.reach = make(map[program.InstrID]struct{})
	r.touched = make(map[*program.Function]struct{})
	cfg, cg := r.g.CFG(), r.g.CallGraph()

	var stack []*program.Instruction
	visit := func(in *program.Instruction) {
		if _, ok := r.reach[in.ID]; ok {
			return
		}
		r.reach[in.ID] = struct{}{}
		r.touched[in.Func()] = struct{}{}
		stack = append(stack, in)
	}
	for _, in := range r.roots {
		visit(in)
	}
	for len(stack) > 0 {
		in := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch r.dir {
		case backward:
			for _, p := range cfg.Predecessors(in) {
				visit(p)
			}
			if in.Func().Entry() == in {
				for _, site := range cg.PossibleCallers(in.Func()) {
					visit(site)
				}
			}
		case forward:
			for _, s := range cfg.Successors(in) {
				visit(s)
			}
			if in.IsCall() {
				for _, f := range cg.PossibleCallees(in) {
					if e := f.Entry(); e != nil {
						visit(e)
					}
				}
			}
		}
	}
}

// Tri implements TriFilter.
func (r *Reachability) Tri(in *program.Instruction) Tri {
	r.once.Do(r.compute)
	if _, ok := r.reach[in.ID]; ok {
		return Reaching
	}
	if _, ok := r.touched[in.Func()]; ok {
		return NotReaching
	}
	return Unknown
}

// CheckInstruction implements InstructionFilter. Instructions of functions
// the analysis never touched are accepted.
func (r *Reachability) CheckInstruction(in *program.Instruction) bool {
	return r.Tri(in) != NotReaching
}

// Len returns the number of reaching instructions.
func (r *Reachability) Len() int {
	r.once.Do(r.compute)
	return len(r.reach)
}
