package utility

import (
	"slices"

	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/filter"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
)

// FilterUtility drops states whose call stack has left the region of an
// instruction filter: scanning from the innermost frame outward, a frame
// that still reaches the region followed by one that does not.
type FilterUtility struct {
	Filter filter.InstructionFilter
}

// Utility implements StateUtility.
func (u FilterUtility) Utility(st *execstate.State) float64 {
	seenReaching := false
	for _, in := range st.CallStack() {
		switch filter.TriOf(u.Filter, in) {
		case filter.Reaching:
			seenReaching = true
		case filter.NotReaching:
			if seenReaching {
				return FilterOut
			}
		}
	}
	return Default
}

// StaticUtility implements StaticUtility.
func (u FilterUtility) StaticUtility(in *program.Instruction) float64 {
	if filter.TriOf(u.Filter, in) == filter.NotReaching {
		return FilterOut
	}
	return Default
}

// Waypoint scores states by the number of ordered checkpoints they passed.
// With Mandatory set, a state that reaches a later checkpoint before an
// earlier one is dropped.
type Waypoint struct {
	Name      string
	Points    []*program.Instruction
	Mandatory bool
}

func (u *Waypoint) key() string {
	return "waypoint:" + u.Name
}

// Observe implements Observer.
func (u *Waypoint) Observe(st *execstate.State) {
	k := u.key()
	n := st.Progress[k]
	if n < len(u.Points) && st.PC == u.Points[n] {
		st.Progress[k] = n + 1
	}
}

// Utility implements StateUtility.
func (u *Waypoint) Utility(st *execstate.State) float64 {
	n := st.Progress[u.key()]
	if u.Mandatory && n < len(u.Points) && slices.Contains(u.Points[n+1:], st.PC) {
		return FilterOut
	}
	return float64(n)
}

// RecoverState prioritizes states that still follow a recorded branch trace,
// so that a previously explored execution is replayed first.
type RecoverState struct {
	Trace []path.Branch
}

// Utility implements StateUtility.
func (u RecoverState) Utility(st *execstate.State) float64 {
	if len(st.Trace) > len(u.Trace) {
		return Default
	}
	for i, b := range st.Trace {
		if u.Trace[i] != b {
			return Default
		}
	}
	return ProcessFirst
}

// Avoid drops states whose PC is accepted by Filter.
type Avoid struct {
	Filter filter.InstructionFilter
}

// Utility implements StateUtility.
func (u Avoid) Utility(st *execstate.State) float64 {
	if st.PC != nil && u.Filter.CheckInstruction(st.PC) {
		return FilterOut
	}
	return Default
}

// StaticUtility implements StaticUtility.
func (u Avoid) StaticUtility(in *program.Instruction) float64 {
	if u.Filter.CheckInstruction(in) {
		return FilterOut
	}
	return Default
}
