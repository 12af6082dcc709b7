// Package filter provides boolean reachability predicates over instructions.
// Filters are immutable after their first evaluation and may be shared freely.
package filter

import "github.com/vk/symsteer/internal/program"

// InstructionFilter decides whether an instruction may still lead somewhere
// useful.
type InstructionFilter interface {
	CheckInstruction(in *program.Instruction) bool
}

// Tri is the three-valued answer of a reachability filter.
type Tri int

const (
	// Unknown means the analysis never touched the instruction's function.
	Unknown Tri = iota
	// Reaching means the instruction satisfies the filter.
	Reaching
	// NotReaching means the function was analysed and the instruction fails.
	NotReaching
)

// String returns a short name for diagnostics.
func (t Tri) String() string {
	switch t {
	case Reaching:
		return "reaching"
	case NotReaching:
		return "not-reaching"
	default:
		return "unknown"
	}
}

// TriFilter is a filter that can tell "no" apart from "don't know".
type TriFilter interface {
	InstructionFilter
	Tri(in *program.Instruction) Tri
}

// TriOf asks f for a three-valued answer. Filters that only answer yes or no
// never report Unknown.
func TriOf(f InstructionFilter, in *program.Instruction) Tri {
	if tf, ok := f.(TriFilter); ok {
		return tf.Tri(in)
	}
	if f.CheckInstruction(in) {
		return Reaching
	}
	return NotReaching
}

// Whitelist accepts exactly the listed instructions.
type Whitelist struct {
	ids map[program.InstrID]struct{}
}

// NewWhitelist creates a whitelist from instructions.
func NewWhitelist(ins ...*program.Instruction) *Whitelist {
	w := &Whitelist{ids: make(map[program.InstrID]struct{}, len(ins))}
	for _, in := range ins {
		w.ids[in.ID] = struct{}{}
	}
	return w
}

// CheckInstruction implements InstructionFilter.
func (w *Whitelist) CheckInstruction(in *program.Instruction) bool {
	_, ok := w.ids[in.ID]
	return ok
}

// Intersection accepts an instruction only if every member accepts it. An
// empty intersection accepts everything.
type Intersection []InstructionFilter

// CheckInstruction implements InstructionFilter.
func (x Intersection) CheckInstruction(in *program.Instruction) bool {
	for _, f := range x {
		if !f.CheckInstruction(in) {
			return false
		}
	}
	return true
}

// Tri implements TriFilter: NotReaching if any member says so, Reaching if
// all members do, Unknown otherwise.
func (x Intersection) Tri(in *program.Instruction) Tri {
	all := true
	for _, f := range x {
		switch TriOf(f, in) {
		case NotReaching:
			return NotReaching
		case Unknown:
			all = false
		}
	}
	if all {
		return Reaching
	}
	return Unknown
}

// Negation inverts another filter.
type Negation struct {
	Inner InstructionFilter
}

// Not wraps f in a Negation.
func Not(f InstructionFilter) Negation {
	return Negation{Inner: f}
}

// CheckInstruction implements InstructionFilter.
func (n Negation) CheckInstruction(in *program.Instruction) bool {
	return !n.Inner.CheckInstruction(in)
}

// Tri implements TriFilter. Unknown stays unknown.
func (n Negation) Tri(in *program.Instruction) Tri {
	switch TriOf(n.Inner, in) {
	case Reaching:
		return NotReaching
	case NotReaching:
		return Reaching
	default:
		return Unknown
	}
}
