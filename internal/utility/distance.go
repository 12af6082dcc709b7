package utility

import (
	"math"

	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/graph"
	"github.com/vk/symsteer/internal/program"
)

// TargetDistance prefers states closer to the targets of a distance map.
// States that cannot reach any target score ProcessLast.
type TargetDistance struct {
	Map *graph.DistanceMap
}

// Utility implements StateUtility.
func (u TargetDistance) Utility(st *execstate.State) float64 {
	return -u.Map.StateDistance(st.CallStack())
}

// StaticUtility implements StaticUtility.
func (u TargetDistance) StaticUtility(in *program.Instruction) float64 {
	return -u.Map.Value(in)
}

// Color implements Colorer.
func (u TargetDistance) Color(st *execstate.State) string {
	d := u.Map.StateDistance(st.CallStack())
	if math.IsInf(d, 1) {
		return "#000000"
	}
	return colorScale(64-d, 64)
}

// Astar adds the depth already travelled to the remaining distance.
type Astar struct {
	Map *graph.DistanceMap
}

// Utility implements StateUtility.
func (u Astar) Utility(st *execstate.State) float64 {
	return -(u.Map.StateDistance(st.CallStack()) + float64(st.Depth))
}
