// Package graph builds the static indexes that steer symbolic exploration: the
// per-function control-flow graph (CFG), the whole-program call graph (CG),
// and distance-to-target maps computed over both.
//
// # Architecture
//
// The Builder is a read-only index over a program.Module. It never copies the
// program; every relation is keyed by instruction id or function pointer.
//
//	┌──────────────────────────────────────┐
//	│               Builder                │
//	│   (owns caches, checks staleness)    │
//	└──────┬──────────────┬────────────────┘
//	       │              │
//	       ▼              ▼
//	  ┌─────────┐   ┌───────────┐   ┌──────────────┐
//	  │   CFG   │   │ CallGraph │◄──│ CallResolver │
//	  └─────────┘   └───────────┘   └──────────────┘
//	       │              │
//	       └──────┬───────┘
//	              ▼
//	       ┌─────────────┐
//	       │ DistanceMap │ (lazy, cached per target set)
//	       └─────────────┘
//
// **CFG**: intra-block chains plus terminator edges into successor blocks.
//
// **CallGraph**: definite edges come from direct calls. Possible edges add
// the targets a CallResolver proposes for indirect calls, so possible edges
// are always a superset of definite ones.
//
// **DistanceMap**: see Builder.Distances.
//
// # Lifecycle
//
//  1. **Build:** Build walks the module once per concern and logs anomalies
//     (uncalled functions, unresolved call sites) without failing.
//  2. **Query:** Distances and the filter package read the indexes.
//  3. **Invalidate:** Any mutation of the module makes the Builder stale.
//     Stale builders refuse new analyses with ErrStaleGraph; build a new one.
//
// # Thread-Safety
//
// After Build returns, CFG and CallGraph are immutable. Distance maps are
// computed under a mutex and are read-only once published.
package graph
