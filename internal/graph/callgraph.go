package graph

import "github.com/vk/symsteer/internal/program"

// CallGraph relates call sites to the functions they may invoke.
type CallGraph struct {
	definiteCallees map[program.InstrID][]*program.Function
	possibleCallees map[program.InstrID][]*program.Function
	definiteCallers map[*program.Function][]*program.Instruction
	possibleCallers map[*program.Function][]*program.Instruction

	sites      []*program.Instruction
	unresolved []*program.Instruction
}

func newCallGraph() *CallGraph {
	return &CallGraph{
		definiteCallees: make(map[program.InstrID][]*program.Function),
		possibleCallees: make(map[program.InstrID][]*program.Function),
		definiteCallers: make(map[*program.Function][]*program.Instruction),
		possibleCallers: make(map[*program.Function][]*program.Instruction),
	}
}

func (g *CallGraph) addDefinite(site *program.Instruction, callee *program.Function) {
	g.definiteCallees[site.ID] = append(g.definiteCallees[site.ID], callee)
	g.definiteCallers[callee] = append(g.definiteCallers[callee], site)
	g.addPossible(site, callee)
}

func (g *CallGraph) addPossible(site *program.Instruction, callee *program.Function) {
	for _, f := range g.possibleCallees[site.ID] {
		if f == callee {
			return
		}
	}
	g.possibleCallees[site.ID] = append(g.possibleCallees[site.ID], callee)
	g.possibleCallers[callee] = append(g.possibleCallers[callee], site)
}

// DefiniteCallees returns the statically known targets of a call site.
func (g *CallGraph) DefiniteCallees(site *program.Instruction) []*program.Function {
	return g.definiteCallees[site.ID]
}

// PossibleCallees returns the definite targets plus the resolved targets of
// an indirect call site.
func (g *CallGraph) PossibleCallees(site *program.Instruction) []*program.Function {
	return g.possibleCallees[site.ID]
}

// DefiniteCallers returns the call sites that call f directly.
func (g *CallGraph) DefiniteCallers(f *program.Function) []*program.Instruction {
	return g.definiteCallers[f]
}

// PossibleCallers returns every call site that may call f.
func (g *CallGraph) PossibleCallers(f *program.Function) []*program.Instruction {
	return g.possibleCallers[f]
}

// CallSites returns every call site of the module in id order.
func (g *CallGraph) CallSites() []*program.Instruction {
	return g.sites
}

// Unresolved returns the indirect call sites for which no target was found.
func (g *CallGraph) Unresolved() []*program.Instruction {
	return g.unresolved
}
