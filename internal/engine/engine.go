package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/emit"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/scheduler"
)

// Interpreter advances a state by one instruction. It returns the live and
// finished successors; st itself may be among them.
type Interpreter interface {
	Step(ctx context.Context, st *execstate.State) ([]*execstate.State, error)
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Steps      int64 `json:"steps"`
	Forks      int64 `json:"forks"`
	Terminated int64 `json:"terminated"`
	Filtered   int64 `json:"filtered"`
	Emitted    int64 `json:"emitted"`
	Frontier   int64 `json:"frontier"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput emits the states accepted by f into w.
func WithOutput(b *emit.Builder, f emit.Filter, w *corpus.Writer) Option {
	return func(e *Engine) {
		e.builder, e.filter, e.out = b, f, w
	}
}

// WithStepLimit stops exploration after n steps. Zero means no limit.
func WithStepLimit(n int64) Option {
	return func(e *Engine) {
		e.limit = n
	}
}

// Engine runs the exploration loop.
type Engine struct {
	interp  Interpreter
	sched   scheduler.Frontier
	builder *emit.Builder
	filter  emit.Filter
	out     *corpus.Writer
	limit   int64

	nextID     atomic.Int64
	steps      atomic.Int64
	forks      atomic.Int64
	terminated atomic.Int64
	filtered   atomic.Int64
	emitted    atomic.Int64
	frontier   atomic.Int64
}

// New creates an engine.
func New(interp Interpreter, sched scheduler.Frontier, opts ...Option) *Engine {
	e := &Engine{interp: interp, sched: sched}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextID allocates a state id.
func (e *Engine) NextID() int {
	return int(e.nextID.Add(1) - 1)
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Steps:      e.steps.Load(),
		Forks:      e.forks.Load(),
		Terminated: e.terminated.Load(),
		Filtered:   e.filtered.Load(),
		Emitted:    e.emitted.Load(),
		Frontier:   e.frontier.Load(),
	}
}

// Run explores from the initial states.
func (e *Engine) Run(ctx context.Context, initial ...*execstate.State) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Exploration started.", "initial_states", len(initial))

	for _, st := range initial {
		if err := e.admit(ctx, st); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, st := range e.sched.Prune() {
			e.filtered.Add(1)
			st.Terminate(execstate.OutcomeFiltered, "filtered out by utility")
			if err := e.finish(ctx, st); err != nil {
				return err
			}
		}
		e.frontier.Store(int64(e.sched.Len()))

		if e.limit > 0 && e.steps.Load() >= e.limit {
			logger.Warn("Step limit reached, dropping the frontier.", "limit", e.limit, "frontier", e.sched.Len())
			for {
				st, ok := e.sched.Pop()
				if !ok {
					break
				}
				st.Release()
			}
			break
		}

		st, ok := e.sched.Pop()
		if !ok {
			break
		}
		children, err := e.interp.Step(ctx, st)
		if err != nil {
			return fmt.Errorf("state %d at %v: %w", st.ID, st.PC, err)
		}
		e.steps.Add(1)
		if n := len(children); n > 1 {
			e.forks.Add(int64(n - 1))
		}
		for _, c := range children {
			if err := e.admit(ctx, c); err != nil {
				return err
			}
		}
	}

	s := e.Stats()
	logger.Info("Exploration finished.",
		"steps", s.Steps, "forks", s.Forks, "terminated", s.Terminated, "filtered", s.Filtered, "emitted", s.Emitted)
	return nil
}

// admit routes a successor: finished states are emitted, live ones return
// to the frontier.
func (e *Engine) admit(ctx context.Context, st *execstate.State) error {
	if st.Done() {
		return e.finish(ctx, st)
	}
	e.sched.Observe(st)
	if e.filter.OnVisit(st) {
		if err := e.write(ctx, st); err != nil {
			return err
		}
	}
	e.sched.Push(st)
	return nil
}

func (e *Engine) finish(ctx context.Context, st *execstate.State) error {
	defer st.Release()
	e.terminated.Add(1)
	ctxlog.FromContext(ctx).Debug("State terminated.", "state", st.ID, "outcome", st.Outcome, "reason", st.Reason)
	if !e.filter.OnTerminate(st) {
		return nil
	}
	return e.write(ctx, st)
}

// write emits one path. A state that cannot be turned into a path is
// skipped; a failing output is fatal.
func (e *Engine) write(ctx context.Context, st *execstate.State) error {
	if e.builder == nil || e.out == nil {
		return nil
	}
	p, err := e.builder.Build(ctx, st)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to build path, skipping state.", "state", st.ID, "error", err)
		return nil
	}
	if err := e.out.WritePath(p); err != nil {
		return fmt.Errorf("writing path: %w", err)
	}
	e.emitted.Add(1)
	ctxlog.FromContext(ctx).Debug("Path emitted.", "state", st.ID, "path", p.UUID)
	return nil
}
