// Package emit turns execution states into paths.
package emit

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/filter"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/solver"
	"github.com/vk/symsteer/internal/symbol"
)

// DefaultMaxTagLen bounds tag strings read from memory.
const DefaultMaxTagLen = 1024

// Filter decides which states are written.
type Filter struct {
	// Terminal emits states that exited normally.
	Terminal bool
	// Early emits states that ended any other way.
	Early bool
	// At emits a snapshot whenever a live state reaches an accepted
	// instruction. Nil accepts nothing.
	At filter.InstructionFilter
}

// OnTerminate reports whether a finished state is emitted.
func (f Filter) OnTerminate(st *execstate.State) bool {
	if st.Outcome == execstate.OutcomeExit {
		return f.Terminal
	}
	return f.Early
}

// OnVisit reports whether a live state is emitted at its current PC.
func (f Filter) OnVisit(st *execstate.State) bool {
	return f.At != nil && st.PC != nil && f.At.CheckInstruction(st.PC)
}

// Builder assembles paths for one participant.
type Builder struct {
	Participant string
	Solver      solver.Solver
	MaxTagLen   int
}

// Build records st as a path. A state joined with sender paths yields the
// merged path of every participant.
func (b *Builder) Build(ctx context.Context, st *execstate.State) (*path.Path, error) {
	logger := ctxlog.FromContext(ctx)
	p := path.New()

	var senders []*path.Path
	seen := make(map[uuid.UUID]bool)
	for _, id := range st.BoundLinks() {
		sp := st.Joint[id].Sender.Path()
		if !seen[sp.UUID] {
			seen[sp.UUID] = true
			senders = append(senders, sp)
		}
	}

	for _, sp := range senders {
		for _, name := range sp.Participants {
			if !slices.Contains(p.Participants, name) {
				p.Participants = append(p.Participants, name)
			}
		}
		for k, v := range sp.Tags {
			p.Tags[k] = v
		}
		p.Explored.Merge(sp.Explored)
		p.TestCoverage.Merge(sp.TestCoverage)
		for k, v := range sp.ExploredPath {
			p.ExploredPath[k] = slices.Clone(v)
		}
	}
	if !slices.Contains(p.Participants, b.Participant) {
		p.Participants = append(p.Participants, b.Participant)
	}

	if err := b.tags(ctx, st, p); err != nil {
		return nil, err
	}

	cov := coverage(st)
	p.Explored.Merge(cov)
	p.TestCoverage.Merge(cov)
	p.ExploredPath[b.Participant] = slices.Clone(st.Trace)

	rename, err := merge(ctx, p, senders, st.Symbols)
	if err != nil {
		return nil, err
	}
	for _, c := range st.Constraints {
		p.Constraints = append(p.Constraints, expr.Substitute(c, rename))
	}

	arrays := p.Arrays()
	if len(arrays) > 0 {
		sol, err := b.Solver.Solve(ctx, p.Constraints, arrays)
		switch {
		case errors.Is(err, solver.ErrBudget):
			logger.Warn("Emit: no test inputs, solver gave up.", "state", st.ID)
		case err != nil:
			return nil, fmt.Errorf("state %d: %w", st.ID, err)
		default:
			for i, a := range arrays {
				p.TestInputs[a.Name] = sol[i]
			}
		}
	}
	return p, nil
}

func (b *Builder) tags(ctx context.Context, st *execstate.State, p *path.Path) error {
	p.Tags[path.TagOutcome] = st.Outcome.String()
	if len(st.Tags) == 0 {
		return nil
	}
	if st.Memory == nil {
		return fmt.Errorf("state %d: tags without memory", st.ID)
	}
	limit := b.MaxTagLen
	if limit == 0 {
		limit = DefaultMaxTagLen
	}
	for name, addr := range st.Tags {
		v, err := st.Memory.ReadCString(ctx, addr, limit)
		if err != nil {
			return fmt.Errorf("state %d: tag %s: %w", st.ID, name, err)
		}
		p.Tags[name] = v
	}
	return nil
}

// coverage is the dense coverage of the state over its module.
func coverage(st *execstate.State) path.Coverage {
	c := path.NewCoverage()
	for _, f := range st.Module().Functions {
		if !f.HasBody() {
			continue
		}
		hit := false
		for _, in := range f.Instructions() {
			covered := st.Covered[in.ID]
			hit = hit || covered
			if in.Loc != (program.Location{}) {
				c.SetLine(in.Loc.File, in.Loc.Line, covered)
			}
		}
		c.SetFunction(f.Name, hit)
	}
	return c
}

// merge appends the sender symbols, renamed where they collide with a
// receiver symbol, followed by the receiver symbols. Output values follow
// the renamed arrays; the renames are returned for the constraints.
func merge(ctx context.Context, p *path.Path, senders []*path.Path, own []*symbol.Symbol) (map[*expr.Array]*expr.Array, error) {
	logger := ctxlog.FromContext(ctx)
	taken := make(map[string]bool, len(own))
	for _, s := range own {
		taken[s.Name] = true
	}

	rename := make(map[*expr.Array]*expr.Array)
	var merged []*symbol.Symbol
	for _, sp := range senders {
		for _, s := range sp.SymbolLog {
			name := s.Name
			if taken[name] {
				name = freeName(name, taken)
				logger.Info("Emit: renamed colliding sender symbol.", "from", s.Name, "to", name, "sender", sp.UUID)
			}
			taken[name] = true
			if name == s.Name {
				merged = append(merged, s)
				continue
			}
			if s.IsInput() {
				a := expr.NewArray(name, s.Array.Size)
				rename[s.Array] = a
				merged = append(merged, &symbol.Symbol{Name: name, Kind: s.Kind, Array: a})
			} else {
				merged = append(merged, &symbol.Symbol{Name: name, Kind: s.Kind, Values: s.Values})
			}
		}
	}

	for _, s := range append(merged, own...) {
		if !s.IsInput() && len(rename) > 0 {
			vals := make([]expr.Expr, len(s.Values))
			for i, v := range s.Values {
				vals[i] = expr.Substitute(v, rename)
			}
			s = &symbol.Symbol{Name: s.Name, Kind: s.Kind, Values: vals}
		}
		if err := p.Append(s); err != nil {
			return nil, err
		}
	}
	return rename, nil
}

// freeName returns the first free renaming of name, see suffixed.
func freeName(name string, taken map[string]bool) string {
	info := symbol.Parse(name)
	for n := 1; ; n++ {
		if cand := suffixed(info, name, n); !taken[cand] {
			return cand
		}
	}
}

// suffixed appends _<n> to the local part. Owned names keep their owner
// suffix last; an unowned name that would then parse as owned takes -<n>
// instead, so kind and owner survive re-parsing.
func suffixed(info symbol.Info, name string, n int) string {
	if info.Owned {
		return symbol.Format(info.Prefix, fmt.Sprintf("%s_%d", info.Local, n), info.Participant, info.Seq)
	}
	cand := fmt.Sprintf("%s_%d", name, n)
	if symbol.Parse(cand).Owned {
		cand = fmt.Sprintf("%s-%d", name, n)
	}
	return cand
}
