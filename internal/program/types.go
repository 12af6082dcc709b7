// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package program

import "fmt"

// InstrID is the stable identifier of an instruction within its Module.
type InstrID int

// NoInstr marks the absence of an instruction, e.g. the caller of a root frame.
const NoInstr InstrID = -1

// Op classifies an instruction for the purposes of graph construction.
type Op int

const (
	// OpPlain is any instruction that neither transfers control nor calls.
	OpPlain Op = iota
	// OpCall invokes a function, directly or indirectly.
	OpCall
	// OpBranch ends a block and transfers control to one of the block successors.
	OpBranch
	// OpReturn leaves the current function.
	OpReturn
	// OpUnreachable ends a block without successors and without returning.
	OpUnreachable
)

// String returns the lowercase mnemonic for the op.
func (o Op) String() string {
	switch o {
	case OpPlain:
		return "plain"
	case OpCall:
		return "call"
	case OpBranch:
		return "br"
	case OpReturn:
		return "ret"
	case OpUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Location is the source position an instruction was lowered from.
type Location struct {
	File string
	Line int
}

// IsZero reports whether the location carries no information.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

// String renders the location as "file:line".
func (l Location) String() string {
	if l.IsZero() {
		return "?"
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Instruction is a single program point.
type Instruction struct {
	// ID is unique within the owning Module.
	ID InstrID
	// Op determines how the instruction participates in the CFG and CG.
	Op Op
	// Block is the basic block holding the instruction.
	Block *Block
	// Index is the position inside Block.Instrs.
	Index int
	// Loc is the source location, possibly zero.
	Loc Location

	// Callee is the statically known target of a direct call.
	Callee *Function
	// ArgTypes are the argument types of a call site, used to resolve
	// indirect calls.
	ArgTypes []string
	// Text is a free-form rendering used in diagnostics.
	Text string
}

// Func returns the function containing the instruction.
func (i *Instruction) Func() *Function {
	return i.Block.Func
}

// IsCall reports whether the instruction is a call site.
func (i *Instruction) IsCall() bool {
	return i.Op == OpCall
}

// IsIndirectCall reports whether the instruction is a call without a
// statically known callee.
func (i *Instruction) IsIndirectCall() bool {
	return i.Op == OpCall && i.Callee == nil
}

// IsTerminator reports whether the instruction is the last one of its block.
func (i *Instruction) IsTerminator() bool {
	return i.Index == len(i.Block.Instrs)-1
}

// Next returns the following instruction inside the same block, or nil for
// the terminator.
func (i *Instruction) Next() *Instruction {
	if i.IsTerminator() {
		return nil
	}
	return i.Block.Instrs[i.Index+1]
}

// String renders the instruction for diagnostics.
func (i *Instruction) String() string {
	if i.Text != "" {
		return fmt.Sprintf("%s#%d %s", i.Func().Name, i.ID, i.Text)
	}
	if i.Callee != nil {
		return fmt.Sprintf("%s#%d %s %s", i.Func().Name, i.ID, i.Op, i.Callee.Name)
	}
	return fmt.Sprintf("%s#%d %s", i.Func().Name, i.ID, i.Op)
}

// Block is a basic block.
type Block struct {
	Name   string
	Func   *Function
	Instrs []*Instruction
	Succs  []*Block
}

// First returns the first instruction of the block, or nil if it is empty.
func (b *Block) First() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[0]
}

// Last returns the terminator of the block, or nil if it is empty.
func (b *Block) Last() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Function is a named unit of code.
type Function struct {
	Name   string
	Module *Module
	// Params holds the parameter types in declaration order.
	Params []string
	Blocks []*Block
}

// HasBody reports whether the function is defined in the module rather than
// merely declared.
func (f *Function) HasBody() bool {
	return len(f.Blocks) > 0 && len(f.Blocks[0].Instrs) > 0
}

// Entry returns the first instruction of the function, or nil for a
// declaration.
func (f *Function) Entry() *Instruction {
	if !f.HasBody() {
		return nil
	}
	return f.Blocks[0].Instrs[0]
}

// Returns lists every return instruction of the function.
func (f *Function) Returns() []*Instruction {
	var out []*Instruction
	for _, b := range f.Blocks {
		if last := b.Last(); last != nil && last.Op == OpReturn {
			out = append(out, last)
		}
	}
	return out
}

// Instructions lists the function instructions in block order.
func (f *Function) Instructions() []*Instruction {
	var out []*Instruction
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

// Signature renders the parameter list, e.g. "(int, string)".
func (f *Function) Signature() string {
	s := "("
	for i, p := range f.Params {
		if i > 0 {
			s += ", "
		}
		s += p
	}
	return s + ")"
}
