// Package scheduler ranks the frontier of live execution states.
//
// # Why Scheduler Exists
//
// Exploration is a search: at every step the engine holds many partially
// explored executions and must decide which one to advance. The scheduler
// owns that decision so the engine loop stays a plain step/emit cycle and
// the search strategy is configured purely by the list of utilities.
//
// # Ordering
//
// Strongest rule first:
//
//  1. A state that any utility scores FilterOut is never selected; Prune
//     removes it.
//  2. Tier: a state that any utility scores ProcessFirst goes ahead of every
//     state without one. Otherwise any ProcessLast puts it behind the rest.
//  3. The ranking utilities compared lexicographically, higher first.
//  4. The state pushed last.
//
// # Relationship with Other Components
//
//   - **Utilities:** provide the scores, see package utility
//   - **Engine:** pushes successors, prunes, pops the next state
package scheduler

import "github.com/vk/symsteer/internal/execstate"

// Frontier is the part of Scheduler the engine depends on.
type Frontier interface {
	Push(sts ...*execstate.State)
	Pop() (*execstate.State, bool)
	Prune() []*execstate.State
	Observe(st *execstate.State)
	Len() int
}

var _ Frontier = (*Scheduler)(nil)
