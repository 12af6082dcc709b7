// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package program

import (
	"fmt"
	"sync/atomic"
)

// Module is a whole program: every function, block and instruction reachable
// by the analyses.
type Module struct {
	Name      string
	Functions []*Function

	byName  map[string]*Function
	instrs  []*Instruction
	version atomic.Uint64
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:   name,
		byName: make(map[string]*Function),
	}
}

// Version changes every time the module is mutated.
func (m *Module) Version() uint64 {
	return m.version.Load()
}

func (m *Module) touch() {
	m.version.Add(1)
}

// NewFunction declares a function. Adding blocks to it turns the declaration
// into a definition. Declaring an existing name returns the existing function.
func (m *Module) NewFunction(name string, params ...string) *Function {
	if f, ok := m.byName[name]; ok {
		return f
	}
	f := &Function{Name: name, Module: m, Params: params}
	m.Functions = append(m.Functions, f)
	m.byName[name] = f
	m.touch()
	return f
}

// Function looks up a function by name.
func (m *Module) Function(name string) (*Function, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Instruction looks up an instruction by id.
func (m *Module) Instruction(id InstrID) (*Instruction, bool) {
	if id < 0 || int(id) >= len(m.instrs) {
		return nil, false
	}
	return m.instrs[id], true
}

// Instructions returns every instruction in id order. The slice must not be
// modified.
func (m *Module) Instructions() []*Instruction {
	return m.instrs
}

// NumInstructions returns the number of instructions in the module.
func (m *Module) NumInstructions() int {
	return len(m.instrs)
}

// NewBlock appends an empty block to the function.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, Func: f}
	f.Blocks = append(f.Blocks, b)
	f.Module.touch()
	return b
}

func (b *Block) add(in *Instruction) *Instruction {
	m := b.Func.Module
	in.ID = InstrID(len(m.instrs))
	in.Block = b
	in.Index = len(b.Instrs)
	b.Instrs = append(b.Instrs, in)
	m.instrs = append(m.instrs, in)
	m.touch()
	return in
}

// Plain appends an ordinary instruction.
func (b *Block) Plain(loc Location) *Instruction {
	return b.add(&Instruction{Op: OpPlain, Loc: loc})
}

// Call appends a direct call to callee.
func (b *Block) Call(callee *Function, loc Location) *Instruction {
	return b.add(&Instruction{Op: OpCall, Callee: callee, ArgTypes: callee.Params, Loc: loc})
}

// CallIndirect appends a call whose target is unknown statically.
func (b *Block) CallIndirect(argTypes []string, loc Location) *Instruction {
	return b.add(&Instruction{Op: OpCall, ArgTypes: argTypes, Loc: loc})
}

// Branch terminates the block with a transfer to succs.
func (b *Block) Branch(loc Location, succs ...*Block) *Instruction {
	in := b.add(&Instruction{Op: OpBranch, Loc: loc})
	b.Succs = append(b.Succs, succs...)
	return in
}

// Return terminates the block with a return.
func (b *Block) Return(loc Location) *Instruction {
	return b.add(&Instruction{Op: OpReturn, Loc: loc})
}

// Unreachable terminates the block without successors.
func (b *Block) Unreachable(loc Location) *Instruction {
	return b.add(&Instruction{Op: OpUnreachable, Loc: loc})
}

// Append adds a prepared instruction. It is used by loaders that already know
// the op, callee and text of the instruction.
func (b *Block) Append(in *Instruction) *Instruction {
	return b.add(in)
}

// Link sets the successors of the block.
func (b *Block) Link(succs ...*Block) {
	b.Succs = append(b.Succs[:0], succs...)
	b.Func.Module.touch()
}

// Validate checks structural invariants: every defined function has a
// terminated entry block and successors only come from branch terminators.
func (m *Module) Validate() error {
	for _, f := range m.Functions {
		for _, b := range f.Blocks {
			if len(b.Instrs) == 0 {
				return fmt.Errorf("function %s: block %q is empty", f.Name, b.Name)
			}
			last := b.Last()
			if len(b.Succs) > 0 && last.Op != OpBranch {
				return fmt.Errorf("function %s: block %q has successors but ends with %s", f.Name, b.Name, last.Op)
			}
			for _, s := range b.Succs {
				if s.Func != f {
					return fmt.Errorf("function %s: block %q jumps into function %s", f.Name, b.Name, s.Func.Name)
				}
			}
		}
	}
	return nil
}
