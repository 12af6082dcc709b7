package graph

import "github.com/vk/symsteer/internal/program"

// CFG is the instruction-level control-flow graph of a module. Edges never
// cross function boundaries; calls are modelled by the CallGraph.
type CFG struct {
	preds map[program.InstrID][]*program.Instruction
	succs map[program.InstrID][]*program.Instruction
}

func newCFG() *CFG {
	return &CFG{
		preds: make(map[program.InstrID][]*program.Instruction),
		succs: make(map[program.InstrID][]*program.Instruction),
	}
}

// addEdge links from -> to. Duplicate edges are ignored.
func (c *CFG) addEdge(from, to *program.Instruction) {
	for _, s := range c.succs[from.ID] {
		if s == to {
			return
		}
	}
	c.succs[from.ID] = append(c.succs[from.ID], to)
	c.preds[to.ID] = append(c.preds[to.ID], from)
}

// buildFunction chains each block and links terminators to the first
// instruction of every successor block.
func (c *CFG) buildFunction(f *program.Function) {
	for _, b := range f.Blocks {
		for i := 0; i+1 < len(b.Instrs); i++ {
			c.addEdge(b.Instrs[i], b.Instrs[i+1])
		}
		last := b.Last()
		if last == nil {
			continue
		}
		for _, s := range b.Succs {
			if first := s.First(); first != nil {
				c.addEdge(last, first)
			}
		}
	}
}

// Predecessors returns the instructions that can execute immediately before
// in. The slice must not be modified.
func (c *CFG) Predecessors(in *program.Instruction) []*program.Instruction {
	return c.preds[in.ID]
}

// Successors returns the instructions that can execute immediately after in.
// The slice must not be modified.
func (c *CFG) Successors(in *program.Instruction) []*program.Instruction {
	return c.succs[in.ID]
}
