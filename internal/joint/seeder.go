// Package joint binds the symbolic inputs of a receiver execution to the
// values a sender execution recorded, so that several participants of a
// distributed system are explored as one joint run.
//
// Per (state, sender path id) a link moves through
//
//	Unbound -> Binding -> Bound -> Satisfied
//	                   \-> Incompatible
//
// An incompatible link terminates only the state that owns it.
package joint

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/solver"
	"github.com/vk/symsteer/internal/symbol"
)

// SeedMapping maps receiver symbol base names to sender base names.
type SeedMapping map[string]string

// Config is the immutable per-process configuration of the protocol.
type Config struct {
	// Participant is the name of this process in the joint run.
	Participant string
	// AutoConnect matches message symbols by endpoint when no explicit
	// mapping applies.
	AutoConnect bool
	// Follow waits for sender paths that have not been written yet.
	Follow  bool
	Mapping SeedMapping
}

// Source is the sender corpus. *corpus.Catalog implements it.
type Source interface {
	Len() (int, error)
	Get(ctx context.Context, id int, follow bool) (*path.Path, error)
}

var _ Source = (*corpus.Catalog)(nil)

// IncompatibleError reports that a state cannot be joined with a sender path.
// The state has already been terminated when it is returned.
type IncompatibleError struct {
	PathID int
	Reason string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("sender path %d: incompatible: %s", e.PathID, e.Reason)
}

// Seeder runs the protocol for one process.
type Seeder struct {
	cfg    Config
	src    Source
	arena  *path.Arena
	solver solver.Solver
}

// New creates a Seeder. src may be nil when no sender corpus is configured.
func New(cfg Config, src Source, arena *path.Arena, s solver.Solver) *Seeder {
	return &Seeder{cfg: cfg, src: src, arena: arena, solver: s}
}

// Config returns the configuration.
func (s *Seeder) Config() Config {
	return s.cfg
}

func (s *Seeder) incompatible(ctx context.Context, st *execstate.State, id int, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	st.Link(id).Phase = execstate.PhaseIncompatible
	st.Terminate(execstate.OutcomeIncompatible, reason)
	ctxlog.FromContext(ctx).Debug("Joint: state incompatible with sender path.", "state", st.ID, "path_id", id, "reason", reason)
	return &IncompatibleError{PathID: id, Reason: reason}
}

// Check reports whether st may be joined with sender path id. Outside follow
// mode a missing path terminates the state; later checks for the same id
// answer from the link without touching the corpus.
func (s *Seeder) Check(ctx context.Context, st *execstate.State, id int) (bool, error) {
	if l, ok := st.Joint[id]; ok {
		switch l.Phase {
		case execstate.PhaseIncompatible:
			return false, nil
		case execstate.PhaseBinding, execstate.PhaseBound, execstate.PhaseSatisfied:
			return true, nil
		}
	}
	if s.src == nil {
		return false, nil
	}
	if s.cfg.Follow {
		return true, nil
	}
	n, err := s.src.Len()
	if err != nil {
		return false, err
	}
	if id < 0 || id >= n {
		_ = s.incompatible(ctx, st, id, "path id %d out of bounds (%d paths)", id, n)
		return false, nil
	}
	return true, nil
}

func (s *Seeder) owned(info symbol.Info) bool {
	return info.Owned && info.Participant == s.cfg.Participant
}

// Bind loads sender path id and joins its constraints into st. It returns an
// *IncompatibleError, with st terminated, when the two cannot be joined.
func (s *Seeder) Bind(ctx context.Context, st *execstate.State, id int) error {
	l := st.Link(id)
	switch l.Phase {
	case execstate.PhaseBound, execstate.PhaseSatisfied:
		return nil
	case execstate.PhaseIncompatible:
		return &IncompatibleError{PathID: id, Reason: st.Reason}
	}
	if s.src == nil {
		return errors.New("joint: no sender corpus configured")
	}

	l.Phase = execstate.PhaseBinding
	p, err := s.src.Get(ctx, id, s.cfg.Follow)
	if errors.Is(err, corpus.ErrOutOfBounds) {
		return s.incompatible(ctx, st, id, "path id %d out of bounds", id)
	}
	if err != nil {
		l.Phase = execstate.PhaseUnbound
		return err
	}

	last, attributed := -1, 0
	for i, sym := range p.SymbolLog {
		if s.owned(sym.Info()) {
			last = i
			if sym.Kind.IsOutput() {
				attributed++
			}
		}
	}
	if own := st.OwnOutputs(); own < attributed {
		return s.incompatible(ctx, st, id, "sender consumed %d outputs of %s, state produced %d", attributed, s.cfg.Participant, own)
	}

	addr, err := s.boundAddr(ctx, p)
	if err != nil {
		return s.incompatible(ctx, st, id, "bound address: %v", err)
	}

	joined := append(slices.Clone(st.Constraints), p.Constraints...)
	ok, err := s.solver.MayBeTrue(ctx, joined)
	if err != nil {
		l.Phase = execstate.PhaseUnbound
		return err
	}
	if !ok {
		return s.incompatible(ctx, st, id, "sender constraints conflict with state")
	}

	st.Constraints = joined
	l.Sender = s.arena.Acquire(p)
	l.LogPos = last + 1
	l.BoundAddr = addr
	l.Phase = execstate.PhaseBound
	if l.LogPos >= len(p.SymbolLog) {
		l.Phase = execstate.PhaseSatisfied
	}
	ctxlog.FromContext(ctx).Debug("Joint: bound state to sender path.",
		"state", st.ID, "path_id", id, "path", p.UUID, "cursor", l.LogPos, "bound_addr", addr)
	return nil
}

// boundAddr returns the address the sender recorded for this participant,
// rendered "ip.port", or "" when there is none.
func (s *Seeder) boundAddr(ctx context.Context, p *path.Path) (string, error) {
	for _, sym := range p.Outputs() {
		info := sym.Info()
		if info.Kind != symbol.KindMsgSource || info.Local != s.cfg.Participant {
			continue
		}
		vals, err := s.concrete(ctx, p, sym.Values)
		if err != nil {
			return "", err
		}
		for i, b := range vals {
			if b == 0 {
				vals = vals[:i]
				break
			}
		}
		return string(vals), nil
	}
	return "", nil
}

// concrete evaluates byte expressions under one model of the path condition.
func (s *Seeder) concrete(ctx context.Context, p *path.Path, es []expr.Expr) ([]byte, error) {
	out := make([]byte, len(es))
	arrays := expr.Arrays(es...)
	if len(arrays) == 0 {
		for i, e := range es {
			out[i] = byte(expr.Eval(e, nil))
		}
		return out, nil
	}
	sol, err := s.solver.Solve(ctx, p.Constraints, arrays)
	if err != nil {
		return nil, err
	}
	a := make(expr.Assignment, len(arrays))
	for i, arr := range arrays {
		a[arr] = sol[i]
	}
	for i, e := range es {
		out[i] = byte(expr.Eval(e, a))
	}
	return out, nil
}

// seeded reports whether a receiver input takes part in seeding at all.
func (s *Seeder) seeded(recv symbol.Info) bool {
	if _, ok := s.cfg.Mapping[recv.Base()]; ok {
		return true
	}
	return s.cfg.AutoConnect && recv.Kind == symbol.KindInMsg
}

func (s *Seeder) matches(recv, send symbol.Info, boundAddr string) bool {
	if want, ok := s.cfg.Mapping[recv.Base()]; ok {
		return send.Base() == want
	}
	if !send.Kind.IsMessage() {
		return false
	}
	re, err := symbol.ParseEndpoint(recv.Local)
	if err != nil {
		return false
	}
	if re.Unbound() && boundAddr != "" {
		if re, err = re.WithBind(boundAddr); err != nil {
			return false
		}
	}
	se, err := symbol.ParseEndpoint(send.Local)
	if err != nil {
		return false
	}
	if send.Kind == symbol.KindOutMsg {
		return re.MatchesOutput(se)
	}
	return re.MatchesInput(se)
}

// Resolve binds the input sym of st to the next matching entry of sender
// path id. It reports false when sym is not seeded. A seeded input with no
// matching entry left, including one that arrives after the whole sender log
// was consumed, makes st incompatible.
func (s *Seeder) Resolve(ctx context.Context, st *execstate.State, id int, sym *symbol.Symbol) (bool, error) {
	if !sym.IsInput() {
		return false, fmt.Errorf("joint: %s is not an input", sym.Name)
	}
	l, ok := st.Joint[id]
	if !ok || l.Sender == nil {
		return false, nil
	}
	switch l.Phase {
	case execstate.PhaseIncompatible:
		return false, &IncompatibleError{PathID: id, Reason: st.Reason}
	}
	recv := sym.Info()
	if !s.seeded(recv) {
		return false, nil
	}

	log := l.Sender.Path().SymbolLog
	for i := l.LogPos; i < len(log); i++ {
		entry := log[i]
		info := entry.Info()
		if s.owned(info) || !s.matches(recv, info, l.BoundAddr) {
			continue
		}
		if entry.Size() != sym.Size() {
			return false, s.incompatible(ctx, st, id, "%s has %d bytes, sender %s has %d", sym.Name, sym.Size(), entry.Name, entry.Size())
		}
		joined := slices.Clone(st.Constraints)
		for k, v := range entry.Exprs() {
			joined = append(joined, expr.Eq(expr.Read{Array: sym.Array, Index: k}, v))
		}
		ok, err := s.solver.MayBeTrue(ctx, joined)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, s.incompatible(ctx, st, id, "%s cannot take the value of %s", sym.Name, entry.Name)
		}
		st.Constraints = joined
		l.LogPos = i + 1
		if l.LogPos >= len(log) {
			l.Phase = execstate.PhaseSatisfied
		}
		ctxlog.FromContext(ctx).Debug("Joint: seeded input.", "state", st.ID, "input", sym.Name, "sender", entry.Name)
		return true, nil
	}
	return false, s.incompatible(ctx, st, id, "no sender entry left for %s", sym.Name)
}

// Seed resolves sym against the bound links of st, lowest path id first, and
// stops at the first one that seeds it. Satisfied links are only consulted
// when no link has entries left.
func (s *Seeder) Seed(ctx context.Context, st *execstate.State, sym *symbol.Symbol) (bool, error) {
	ids := st.BoundLinks()
	open := slices.DeleteFunc(slices.Clone(ids), func(id int) bool {
		return st.Joint[id].Phase == execstate.PhaseSatisfied
	})
	if len(open) > 0 {
		ids = open
	}
	for _, id := range ids {
		ok, err := s.Resolve(ctx, st, id, sym)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
