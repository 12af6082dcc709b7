// Package execstate is the execution state shared by the interpreter, the
// scheduler and the joint seeding protocol.
package execstate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/symbol"
)

// ErrAmbiguousResolution is returned by Memory implementations when an
// address resolves to more than one object.
var ErrAmbiguousResolution = errors.New("ambiguous memory resolution")

// Memory is the address-resolution capability of the interpreter.
type Memory interface {
	// ReadCString reads a NUL-terminated string of at most max bytes.
	ReadCString(ctx context.Context, addr uint64, max int) (string, error)
}

// Outcome is how a state ended.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeExit
	OutcomeIncompatible
	OutcomeFiltered
	OutcomeError
)

var outcomeNames = [...]string{"running", "exit", "incompatible", "filtered", "error"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Frame is one call-stack entry. Caller is the call site in the parent
// frame, nil for the root frame.
type Frame struct {
	Function *program.Function
	Caller   *program.Instruction
}

// JointPhase is the progress of binding a state to one sender path.
type JointPhase int

const (
	PhaseUnbound JointPhase = iota
	PhaseBinding
	PhaseBound
	PhaseSatisfied
	PhaseIncompatible
)

var phaseNames = [...]string{"unbound", "binding", "bound", "satisfied", "incompatible"}

func (p JointPhase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// JointLink binds a state to one sender path.
type JointLink struct {
	Phase JointPhase
	// Sender is nil until the path is loaded.
	Sender *path.Handle
	// LogPos is the next sender log entry to consider.
	LogPos int
	// BoundAddr is this participant's own address as the sender saw it.
	BoundAddr string
}

// State is one partially explored execution.
type State struct {
	ID int
	PC *program.Instruction
	// Stack holds the frames, root first.
	Stack []Frame
	// Depth counts branch decisions, Steps executed instructions.
	Depth int
	Steps int

	Constraints []expr.Expr
	// Symbols lists the symbols created along the execution.
	Symbols []*symbol.Symbol
	// Tags maps tag names to the address of their string value.
	Tags map[string]uint64

	Covered map[program.InstrID]bool
	Trace   []path.Branch

	Filtered bool
	// Progress is per-utility bookkeeping, e.g. waypoints reached.
	Progress map[string]int
	// Joint holds one link per sender path id.
	Joint map[int]*JointLink

	Outcome Outcome
	Reason  string

	Memory Memory

	seq map[string]int
}

// New creates a root state positioned at the entry of fn.
func New(id int, fn *program.Function) *State {
	return &State{
		ID:       id,
		PC:       fn.Entry(),
		Stack:    []Frame{{Function: fn}},
		Tags:     make(map[string]uint64),
		Covered:  make(map[program.InstrID]bool),
		Progress: make(map[string]int),
		Joint:    make(map[int]*JointLink),
		seq:      make(map[string]int),
	}
}

// Fork copies the state. The child shares immutable values (expressions,
// symbols, paths) and owns everything mutable; sender paths are re-acquired.
func (s *State) Fork(id int) *State {
	c := *s
	c.ID = id
	c.Stack = slices.Clone(s.Stack)
	c.Constraints = slices.Clone(s.Constraints)
	c.Symbols = slices.Clone(s.Symbols)
	c.Tags = maps.Clone(s.Tags)
	c.Covered = maps.Clone(s.Covered)
	c.Trace = slices.Clone(s.Trace)
	c.Progress = maps.Clone(s.Progress)
	c.seq = maps.Clone(s.seq)
	c.Joint = make(map[int]*JointLink, len(s.Joint))
	for id, l := range s.Joint {
		cl := *l
		if l.Sender != nil {
			cl.Sender = l.Sender.Clone()
		}
		c.Joint[id] = &cl
	}
	return &c
}

// Done reports whether the state has terminated.
func (s *State) Done() bool {
	return s.Outcome != OutcomeRunning
}

// Terminate ends the state. The first outcome wins.
func (s *State) Terminate(o Outcome, reason string) {
	if s.Done() {
		return
	}
	s.Outcome = o
	s.Reason = reason
}

// Release drops the state's references to sender paths.
func (s *State) Release() {
	for _, l := range s.Joint {
		if l.Sender != nil {
			l.Sender.Release()
		}
	}
}

// Module returns the module the state executes.
func (s *State) Module() *program.Module {
	return s.Stack[0].Function.Module
}

// Visit moves the state to in and records coverage.
func (s *State) Visit(in *program.Instruction) {
	s.PC = in
	s.Steps++
	if in != nil {
		s.Covered[in.ID] = true
	}
}

// Branch records a branch decision at the current instruction.
func (s *State) Branch(taken bool) {
	s.Depth++
	s.Trace = append(s.Trace, path.Branch{Loc: s.PC.Loc.String(), Taken: taken})
}

// Push enters callee from the call site at the current PC.
func (s *State) Push(callee *program.Function) {
	s.Stack = append(s.Stack, Frame{Function: callee, Caller: s.PC})
	s.Visit(callee.Entry())
}

// Pop leaves the current frame and returns its call site, or nil when the
// root frame returns.
func (s *State) Pop() *program.Instruction {
	top := s.Stack[len(s.Stack)-1]
	if top.Caller == nil {
		return nil
	}
	s.Stack = s.Stack[:len(s.Stack)-1]
	return top.Caller
}

// CallStack returns the executing instruction followed by the call sites of
// the enclosing frames, innermost first.
func (s *State) CallStack() []*program.Instruction {
	out := make([]*program.Instruction, 0, len(s.Stack))
	out = append(out, s.PC)
	for i := len(s.Stack) - 1; i > 0; i-- {
		out = append(out, s.Stack[i].Caller)
	}
	return out
}

// AddConstraint conjoins e to the path condition.
func (s *State) AddConstraint(e ...expr.Expr) {
	s.Constraints = append(s.Constraints, e...)
}

// AddSymbol records a symbol.
func (s *State) AddSymbol(sym *symbol.Symbol) {
	s.Symbols = append(s.Symbols, sym)
}

// NextSeq returns the next sequence number for a name prefix.
func (s *State) NextSeq(prefix string) int {
	n := s.seq[prefix]
	s.seq[prefix] = n + 1
	return n
}

// OwnOutputs counts the output symbols of the state.
func (s *State) OwnOutputs() int {
	n := 0
	for _, sym := range s.Symbols {
		if sym.Kind.IsOutput() {
			n++
		}
	}
	return n
}

// Link returns the joint link for a sender path id, creating an unbound one.
func (s *State) Link(id int) *JointLink {
	l, ok := s.Joint[id]
	if !ok {
		l = &JointLink{}
		s.Joint[id] = l
	}
	return l
}

// BoundLinks returns the ids of links with a loaded sender, ascending.
func (s *State) BoundLinks() []int {
	var ids []int
	for id, l := range s.Joint {
		if l.Sender != nil && (l.Phase == PhaseBound || l.Phase == PhaseSatisfied) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
