package graph

import (
	"context"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/program"
)

// Distance is the number of steps from an instruction to the closest target.
//
// A final distance already accounts for everything below the instruction's
// frame. A non-final distance counts only the steps needed to return from the
// current function; the continuation in the caller frame must be added.
type Distance struct {
	Value float64
	Final bool
}

// Infinity is the distance of instructions that cannot reach any target.
var Infinity = math.Inf(1)

// DistanceMap holds the distances of every instruction that can reach a
// target set. It is read-only once published by Builder.Distances.
type DistanceMap struct {
	targets []*program.Instruction
	cfg     *CFG
	dist    map[program.InstrID]Distance
}

// Targets returns the target set the map was computed for.
func (m *DistanceMap) Targets() []*program.Instruction {
	return m.targets
}

// Len returns the number of instructions with a known distance.
func (m *DistanceMap) Len() int {
	return len(m.dist)
}

// At returns the distance of an instruction and whether it is known.
func (m *DistanceMap) At(in *program.Instruction) (Distance, bool) {
	d, ok := m.dist[in.ID]
	return d, ok
}

// Value returns the raw distance of an instruction, or Infinity.
func (m *DistanceMap) Value(in *program.Instruction) float64 {
	if d, ok := m.dist[in.ID]; ok {
		return d.Value
	}
	return Infinity
}

// continuation is the distance from a call site once the callee has
// returned: one step plus the best successor.
func (m *DistanceMap) continuation(site *program.Instruction) (Distance, bool) {
	var best Distance
	found := false
	for _, s := range m.cfg.Successors(site) {
		d, ok := m.dist[s.ID]
		if !ok {
			continue
		}
		if !found || d.Value < best.Value || (d.Value == best.Value && d.Final && !best.Final) {
			best = d
			found = true
		}
	}
	if !found {
		return Distance{}, false
	}
	return Distance{Value: best.Value + 1, Final: best.Final}, true
}

// StateDistance combines the distances of a call stack. stack[0] is the
// executing instruction and every further entry is the call site of the
// next frame out. Non-final distances are summed until a final one is found;
// a stack whose root frame is still non-final cannot reach a target.
func (m *DistanceMap) StateDistance(stack []*program.Instruction) float64 {
	total := 0.0
	for i, pc := range stack {
		var (
			d  Distance
			ok bool
		)
		if i == 0 {
			d, ok = m.At(pc)
		} else {
			d, ok = m.continuation(pc)
		}
		if !ok {
			return Infinity
		}
		total += d.Value
		if d.Final {
			return total
		}
	}
	return Infinity
}

// Distances returns the distance map for a target set, computing it on first
// use. Maps are cached per target set for the lifetime of the builder.
func (b *Builder) Distances(ctx context.Context, targets []*program.Instruction) (*DistanceMap, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	key := targetKey(targets)

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.distances[key]; ok {
		return m, nil
	}
	m := b.computeDistances(targets)
	b.distances[key] = m
	ctxlog.FromContext(ctx).Debug("Distance map computed.", "targets", len(targets), "known", m.Len())
	return m, nil
}

func targetKey(targets []*program.Instruction) string {
	ids := make([]int, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, int(t.ID))
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

type queued struct {
	in *program.Instruction
	d  Distance
}

func (b *Builder) computeDistances(targets []*program.Instruction) *DistanceMap {
	m := &DistanceMap{
		targets: slices.Clone(targets),
		cfg:     b.cfg,
		dist:    make(map[program.InstrID]Distance),
	}

	// Final distances: breadth-first backwards over CFG predecessors and from
	// function entries to their call sites.
	var queue []queued
	set := func(in *program.Instruction, d Distance) {
		if _, ok := m.dist[in.ID]; ok {
			return
		}
		m.dist[in.ID] = d
		queue = append(queue, queued{in, d})
	}
	for _, t := range targets {
		set(t, Distance{Value: 0, Final: true})
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := Distance{Value: cur.d.Value + 1, Final: true}
		for _, p := range b.cfg.Predecessors(cur.in) {
			set(p, next)
		}
		if f := cur.in.Func(); f.Entry() == cur.in {
			for _, site := range b.cg.PossibleCallers(f) {
				set(site, next)
			}
		}
	}

	// Non-final distances: distance to return from callees whose call site
	// continues towards a target. Each callee is seeded once; the call sites
	// it reaches may seed further callees.
	seeded := make(map[*program.Function]bool)
	seed := func(site *program.Instruction) {
		if _, ok := m.continuation(site); !ok {
			return
		}
		for _, g := range b.cg.PossibleCallees(site) {
			if seeded[g] || !g.HasBody() {
				continue
			}
			seeded[g] = true
			for _, r := range g.Returns() {
				set(r, Distance{Value: 0, Final: false})
			}
		}
	}
	for _, site := range b.cg.CallSites() {
		seed(site)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.in.IsCall() {
			seed(cur.in)
		}
		next := Distance{Value: cur.d.Value + 1, Final: cur.d.Final}
		for _, p := range b.cfg.Predecessors(cur.in) {
			set(p, next)
			if p.IsCall() {
				seed(p)
			}
		}
	}
	return m
}
