// Package utility scores execution states for the scheduler.
//
// A utility maps a state to a float64. Four values are reserved:
//
//	FilterOut     +Inf     drop the state
//	ProcessFirst  MaxFloat64
//	Default       0
//	ProcessLast   -Inf
//
// Every other value is an ordinary score, higher is better.
package utility

import (
	"math"

	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/program"
)

// Sentinel values.
var (
	FilterOut    = math.Inf(1)
	ProcessFirst = math.MaxFloat64
	Default      = 0.0
	ProcessLast  = math.Inf(-1)
)

// IsFilterOut reports whether v asks for the state to be dropped.
func IsFilterOut(v float64) bool {
	return math.IsInf(v, 1)
}

// StateUtility scores a state.
type StateUtility interface {
	Utility(st *execstate.State) float64
}

// StaticUtility scores a program point independently of any state.
type StaticUtility interface {
	StaticUtility(in *program.Instruction) float64
}

// Colorer renders a state for debugging views.
type Colorer interface {
	Color(st *execstate.State) string
}

// Observer is notified whenever a state moves to a new instruction.
type Observer interface {
	Observe(st *execstate.State)
}

// Func adapts a plain function to StateUtility.
type Func func(st *execstate.State) float64

// Utility implements StateUtility.
func (f Func) Utility(st *execstate.State) float64 { return f(st) }

// Filtered drops states the interpreter flagged as filtered.
type Filtered struct{}

// Utility implements StateUtility.
func (Filtered) Utility(st *execstate.State) float64 {
	if st.Filtered {
		return FilterOut
	}
	return Default
}

// Depth prefers deeper states.
type Depth struct{}

// Utility implements StateUtility.
func (Depth) Utility(st *execstate.State) float64 {
	return float64(st.Depth)
}

// Color implements Colorer.
func (Depth) Color(st *execstate.State) string {
	return colorScale(float64(st.Depth), 64)
}

// colorScale maps v in [0, max] to a gray level.
func colorScale(v, max float64) string {
	if v > max {
		v = max
	}
	if v < 0 {
		v = 0
	}
	c := int(255 * v / max)
	const hex = "0123456789abcdef"
	b := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i := 0; i < 3; i++ {
		b[1+2*i] = hex[c>>4]
		b[2+2*i] = hex[c&0xf]
	}
	return string(b)
}
